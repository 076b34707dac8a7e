package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	kit "questbot/internal/transport"
	logx "questbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) DeleteText(ctx context.Context, ref kit.MessageRef) error { return nil }

func (a *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.text)
	}
	return out
}

// drain runs queued jobs inline.
func drain(m *CommandManager) {
	for {
		select {
		case job := <-m.jobs:
			job()
		default:
			return
		}
	}
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, ThreadID: 7, FromID: from, Text: text}}
}

func newTestManager(t *testing.T) (*CommandManager, *fakeAdapter, *[]string) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{42}, nil)
	var calls []string
	rec := func(ctx context.Context, req *Request) error {
		calls = append(calls, req.Command+"|"+strings.Join(req.Args, ","))
		return nil
	}
	m.SetRegistry([]Command{
		{Route: "status", Description: "show all tasks", Handle: rec},
		{Route: "pause", Aliases: []string{"stop"}, Access: AccessOwnerOnly, Handle: rec},
		{Route: "settings", Handle: rec},
		{Route: "settings set", Usage: "/settings set KEY VALUE", Access: AccessOwnerOnly, Handle: rec},
		{Route: "done", Handle: func(ctx context.Context, req *Request) error {
			if len(req.Args) == 0 {
				return Userf("usage: /done NAME")
			}
			return errors.New("db down")
		}},
	}, []CallbackRoute{
		{Scope: "quest", Action: "done", Handle: func(ctx context.Context, req *Request, payload string) error {
			calls = append(calls, req.Command+"|"+payload)
			return nil
		}},
		{Scope: "quest", Action: "skip", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request, payload string) error {
			calls = append(calls, req.Command+"|"+payload)
			return nil
		}},
	})
	return m, ad, &calls
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/status", []string{"/status"}},
		{"/done  Guild Daily", []string{"/done", "Guild", "Daily"}},
		{`/done "Zigred Hive"`, []string{"/done", "Zigred Hive"}},
		{`/done 'Fire Altar' now`, []string{"/done", "Fire Altar", "now"}},
		{`/done Fire\ Altar`, []string{"/done", "Fire Altar"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenize(%q)=%q want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCommandWord(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"/status":          "status",
		"/Status@QuestBot": "status",
		"settings":         "settings",
	} {
		if got := commandWord(in); got != want {
			t.Fatalf("commandWord(%q)=%q want %q", in, got, want)
		}
	}
}

func TestResolveRoutesAndAliases(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	tests := []struct {
		line  string
		route string
		args  []string
	}{
		{"/status", "status", []string{}},
		{"/stop", "pause", []string{}},
		{"/settings set stale_minutes 30", "settings set", []string{"stale_minutes", "30"}},
		{"/settings_set stale_minutes 30", "settings set", []string{"stale_minutes", "30"}},
		{"/settings", "settings", []string{}},
	}
	for _, tt := range tests {
		node, _, args := m.resolve(tokenizeCommandLine(tt.line))
		if node == nil || node.cmd == nil {
			t.Fatalf("%q: no command", tt.line)
		}
		if node.cmd.Route != tt.route {
			t.Fatalf("%q: route=%q want %q", tt.line, node.cmd.Route, tt.route)
		}
		if len(args) != len(tt.args) || (len(args) > 0 && !reflect.DeepEqual(args, tt.args)) {
			t.Fatalf("%q: args=%q want %q", tt.line, args, tt.args)
		}
	}
	if node, _, _ := m.resolve([]string{"/nope"}); node != nil {
		t.Fatalf("unknown command resolved")
	}
}

func TestRouteMessageOwnerGate(t *testing.T) {
	t.Parallel()

	m, ad, calls := newTestManager(t)
	ctx := context.Background()

	m.routeUpdate(ctx, message(1, "/pause"))
	drain(m)
	if len(*calls) != 0 {
		t.Fatalf("non-owner ran owner command: %v", *calls)
	}
	if got := ad.texts(); len(got) != 1 || got[0] != "⛔ Owner only" {
		t.Fatalf("sent=%q", got)
	}

	m.routeUpdate(ctx, message(42, "/stop"))
	m.routeUpdate(ctx, message(1, "/status extra"))
	drain(m)
	want := []string{"pause|", "status|extra"}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("calls=%q want %q", *calls, want)
	}
}

func TestRouteMessageIgnoresPlainTextAndUnknown(t *testing.T) {
	t.Parallel()

	m, ad, calls := newTestManager(t)
	ctx := context.Background()
	m.routeUpdate(ctx, message(1, "hello there"))
	m.routeUpdate(ctx, message(1, "/bogus"))
	drain(m)
	if len(*calls) != 0 {
		t.Fatalf("calls=%q", *calls)
	}
	if got := ad.texts(); len(got) != 1 || got[0] != "Unknown command. Try /help" {
		t.Fatalf("sent=%q", got)
	}
}

func TestReplyErrorMiddleware(t *testing.T) {
	t.Parallel()

	m, ad, _ := newTestManager(t)
	ctx := context.Background()
	m.routeUpdate(ctx, message(1, "/done"))
	m.routeUpdate(ctx, message(1, "/done Guild"))
	drain(m)

	got := ad.texts()
	if len(got) != 2 {
		t.Fatalf("sent=%q", got)
	}
	if got[0] != "❌ usage: /done NAME" {
		t.Fatalf("user error reply=%q", got[0])
	}
	if !strings.HasPrefix(got[1], "❌ Something went wrong (ref ") || strings.Contains(got[1], "db down") {
		t.Fatalf("internal error reply=%q", got[1])
	}
}

func TestRouteCallback(t *testing.T) {
	t.Parallel()

	m, ad, calls := newTestManager(t)
	ctx := context.Background()
	cb := func(from int64, data string) kit.Update {
		return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c", FromID: from, ChatID: -100, MessageID: 9, Data: data}}
	}

	m.routeUpdate(ctx, cb(1, "quest:done:12"))
	m.routeUpdate(ctx, cb(1, "quest:skip:12"))
	m.routeUpdate(ctx, cb(42, "quest:skip:13"))
	m.routeUpdate(ctx, cb(1, "garbage"))
	drain(m)

	want := []string{"cb:quest:done|12", "cb:quest:skip|13"}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("calls=%q want %q", *calls, want)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	var denied int
	for _, a := range ad.answers {
		if a == "⛔ Owner only" {
			denied++
		}
	}
	if denied != 1 {
		t.Fatalf("answers=%q", ad.answers)
	}
}

func TestHelpText(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	top := m.helpText(nil)
	for _, want := range []string{"<code>/status</code> - show all tasks", "<code>/help</code>", "🔒 <code>/pause</code>"} {
		if !strings.Contains(top, want) {
			t.Fatalf("top help missing %q:\n%s", want, top)
		}
	}
	if strings.Index(top, "/pause") < strings.Index(top, "/status") {
		t.Fatalf("owner-only commands should sort last:\n%s", top)
	}

	node := m.helpText([]string{"settings"})
	if !strings.Contains(node, "<code>/settings set</code>") {
		t.Fatalf("subcommands missing:\n%s", node)
	}
	leaf := m.helpText([]string{"settings", "set"})
	if !strings.Contains(leaf, "/settings set KEY VALUE") || !strings.Contains(leaf, "Owner only") {
		t.Fatalf("leaf help:\n%s", leaf)
	}
	if got := m.helpText([]string{"stop"}); !strings.Contains(got, "<code>/pause</code>") {
		t.Fatalf("alias help:\n%s", got)
	}
	if got := m.helpText([]string{"nope"}); !strings.Contains(got, "Unknown command") {
		t.Fatalf("unknown help:\n%s", got)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	menu := buildMenu(root, []Command{
		{Route: "settings set", Description: "change a setting", Access: AccessOwnerOnly},
	})
	byName := map[string]string{}
	for _, c := range menu {
		byName[c.Command] = c.Description
	}
	if byName["status"] != "show all tasks" {
		t.Fatalf("menu=%v", menu)
	}
	if byName["settings_set"] != "🔒 change a setting" {
		t.Fatalf("menu=%v", menu)
	}

	for in, want := range map[string]string{
		"Done-All": "done_all",
		"9lives":   "cmd_9lives",
		"a  b//c":  "a_b_c",
		"émoji✨":   "moji",
		"__x__":    "x",
	} {
		if got := menuName(in); got != want {
			t.Fatalf("menuName(%q)=%q want %q", in, got, want)
		}
	}
}
