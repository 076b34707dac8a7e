package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"questbot/internal/gametime"
	"questbot/internal/quest"
	kit "questbot/internal/transport"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	opts    []*kit.SendOptions
	to      []kit.ChatTarget
	deleted []kit.MessageRef
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	a.opts = append(a.opts, opt)
	a.to = append(a.to, to)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) DeleteText(_ context.Context, ref kit.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, ref)
	return nil
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func mustRef(t *testing.T, h Handle) kit.MessageRef {
	t.Helper()
	ref, err := ParseTelegramHandle(h)
	if err != nil {
		t.Fatalf("ParseTelegramHandle(%q): %v", h, err)
	}
	return ref
}

func TestTelegramSinkRendersCardWithButtons(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	sink := NewTelegramSink(ad, quest.Target{ChatID: -100, ThreadID: 3})
	card := RenderReady(Payload{
		TaskID:                12,
		Name:                  "Zigred <Hive>",
		Kind:                  quest.KindInstance,
		State:                 quest.Available,
		Message:               "Ready to enter",
		CooldownMinutes:       4320,
		ActiveDurationMinutes: 360,
		Buttons:               true,
	})

	h, err := sink.Send(context.Background(), card)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if h != "tg:-100:3:1" {
		t.Fatalf("handle %q", h)
	}
	want := "🏰 <b>Zigred &lt;Hive&gt; can be entered!</b>\n🟢 Ready to enter\nCooldown: 3d | Open for: 6h"
	if ad.sent[0] != want {
		t.Fatalf("text:\n%q\nwant\n%q", ad.sent[0], want)
	}
	rm, ok := ad.opts[0].ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 3 {
		t.Fatalf("unexpected markup %#v", ad.opts[0].ReplyMarkupAdapter)
	}
	if got := rm.InlineKeyboard[0][2].Data; got != "quest:snooze:12" {
		t.Fatalf("snooze data %q", got)
	}

	if err := sink.Delete(context.Background(), h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ad.deleted[0] != (kit.MessageRef{ChatID: -100, ThreadID: 3, MessageID: 1}) {
		t.Fatalf("deleted %+v", ad.deleted[0])
	}
}

func TestTelegramSinkNeedsTarget(t *testing.T) {
	t.Parallel()

	sink := NewTelegramSink(&fakeAdapter{}, quest.Target{})
	if _, err := sink.Send(context.Background(), RenderPre(PreNotice{Name: "x", Minutes: 5})); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestDiscordSinkSendAndDelete(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		got     DiscordPayload
		deleted string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			if r.URL.Query().Get("wait") != "true" {
				http.Error(w, "wait missing", http.StatusBadRequest)
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":"555"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	// 03:00 game time at UTC+3 is midnight UTC.
	trt := time.FixedZone("TRT", 3*3600)
	clock := gametime.New(trt).WithNow(func() time.Time { return time.Date(2024, 1, 1, 3, 0, 0, 0, trt) })
	sink := NewDiscordSink(srv.URL+"/api/webhooks/1/abc/", "questbot", time.Second, clock)

	h, err := sink.Send(context.Background(), RenderPre(PreNotice{Name: "Dragon Altar", Minutes: 5, ShowResourceReminder: true}))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if h != "dc:555" {
		t.Fatalf("handle %q", h)
	}
	mu.Lock()
	if got.Username != "questbot" || len(got.Embeds) != 1 {
		t.Fatalf("payload %+v", got)
	}
	if e := got.Embeds[0]; e.Title != "⏳ Dragon Altar will be ready in 5 minutes! (prepare your resources!)" || e.Color != colorPre || e.Timestamp != "2024-01-01T00:00:00Z" {
		t.Fatalf("embed %+v", e)
	}
	mu.Unlock()

	if err := sink.Delete(context.Background(), h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if deleted != "/api/webhooks/1/abc/messages/555" {
		t.Fatalf("deleted path %q", deleted)
	}
}

func TestDiscordSinkErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewDiscordSink(srv.URL, "", time.Second, nil).Send(context.Background(), RenderAnnouncement(Announcement{Text: "hi"}))
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
	if err := NewDiscordSink(srv.URL, "", time.Second, nil).Delete(context.Background(), "tg:1:0:1"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestRenderTexts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"daily card", RenderReady(Payload{Name: "Guild", Kind: quest.KindDaily}).Text(), "📋 Guild is not done today!"},
		{"cooldown card", RenderReady(Payload{Name: "Altar", Kind: quest.KindCooldown, CooldownMinutes: 1440, State: quest.Available, Message: "Ready"}).Text(), "🔔 Altar is ready!\n🟢 Ready\nCooldown: 1d"},
		{"pre", RenderPre(PreNotice{Name: "Altar", Minutes: 5}).Text(), "⏳ Altar will be ready in 5 minutes!"},
		{"weekly reset", ResetText(quest.KindWeekly, 4), "🔄 Weekly reset: 4 tasks are available again"},
		{"daily reminder", DailyReminderText([]string{"a", "b", "c", "d", "e", "f", "g"}), "⏰ Daily quests left: a, b, c, d, e +2 more"},
		{"daily reminder empty", DailyReminderText(nil), ""},
		{"weekly reminder", WeeklyReminderText("hdr", []string{"a", "b"}), "📆 hdr\nRemaining: a, b"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
