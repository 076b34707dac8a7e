package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"questbot/internal/quest"
	"questbot/internal/transport/telegram/router"
)

func TestBindRoutesLaterCards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	topic := quest.Target{ChatID: -200, ThreadID: 3}

	if err := f.set.cmdBind(ctx, f.req(topic, "weekly", "quests")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if out := f.ad.last(); out != "🔗 Weekly Quests now posts here." {
		t.Fatalf("reply=%q", out)
	}
	cat, err := f.store.CategoryByTarget(ctx, topic)
	if err != nil || cat.Name != "Weekly Quests" {
		t.Fatalf("by target=%+v err=%v", cat, err)
	}

	if _, err := f.tr.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got, ok := f.notif.deliveredTo("Guild Weekly"); !ok || got != topic {
		t.Fatalf("Guild Weekly target=%+v delivered=%v", got, ok)
	}
	if got, ok := f.notif.deliveredTo("Guild Daily"); !ok || got != dailyTarget {
		t.Fatalf("Guild Daily target=%+v delivered=%v", got, ok)
	}
	if got, ok := f.notif.deliveredTo("Zigred Hive"); !ok || !got.IsZero() {
		t.Fatalf("Zigred Hive target=%+v delivered=%v", got, ok)
	}
}

func TestBindReplacesEarlierBinding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if err := f.set.cmdBind(ctx, f.req(dailyTarget, "Instances")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	daily, err := f.store.CategoryByName(ctx, "Daily Quests")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if !daily.Target.IsZero() {
		t.Fatalf("daily still bound to %+v", daily.Target)
	}
	cat, err := f.store.CategoryByTarget(ctx, dailyTarget)
	if err != nil || cat.Name != "Instances" {
		t.Fatalf("by target=%+v err=%v", cat, err)
	}
}

func TestBindListsAndRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if err := f.set.cmdBind(ctx, f.req(elsewhere)); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := f.ad.last()
	for _, want := range []string{"Category bindings", "Daily Quests", "-100/5", "fallback chat"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list missing %q:\n%s", want, out)
		}
	}

	var ue *router.UserError
	if err := f.set.cmdBind(ctx, f.req(elsewhere, "Raids")); !errors.As(err, &ue) || !strings.Contains(ue.Msg, "Raids") {
		t.Fatalf("unknown category err=%v", err)
	}
}

func TestAddTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{name: "daily", args: "Daily Quests | Boss Daily"},
		{name: "instance", args: "instances | Sunken Vault | 2880 | 240"},
		{name: "instance without open", args: "Instances | Sunken Vault | 2880", wantErr: "open duration"},
		{name: "bad minutes", args: "Instances | Sunken Vault | soon", wantErr: "whole number"},
		{name: "unknown category", args: "Raids | Boss", wantErr: "Raids"},
		{name: "duplicate", args: "Weekly Quests | guild daily", wantErr: "already exists"},
		{name: "missing name", args: "Daily Quests", wantErr: "usage"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)

			err := f.set.cmdAddTask(ctx, f.req(elsewhere, strings.Fields(tt.args)...))
			if tt.wantErr != "" {
				var ue *router.UserError
				if !errors.As(err, &ue) || !strings.Contains(ue.Msg, tt.wantErr) {
					t.Fatalf("err=%v want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("addtask: %v", err)
			}
			name := strings.TrimSpace(strings.Split(tt.args, "|")[1])
			v, err := f.store.FindTaskByName(ctx, name)
			if err != nil {
				t.Fatalf("find %s: %v", name, err)
			}
			if v.Record.LastStatus != quest.StatusInitialized || !v.Task.Active {
				t.Fatalf("view=%+v", v)
			}
			if out := f.ad.last(); !strings.HasPrefix(out, "➕ "+name+" added to") {
				t.Fatalf("reply=%q", out)
			}
		})
	}
}
