package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"questbot/internal/gametime"
	"questbot/internal/quest"
	logx "questbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "file", "quests.json"), Seed: true},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "quests.db"), Seed: true},
		{Driver: "memory", Seed: true},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled store: %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, st := range openDrivers(t) {
		name, st := name, st
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			views, err := st.ListTasksWithStatus(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(views) != 17 {
				t.Fatalf("seeded tasks=%d want 17", len(views))
			}
			cats, err := st.ListCategories(ctx)
			if err != nil || len(cats) != 7 {
				t.Fatalf("categories=%d err=%v", len(cats), err)
			}
			if seeded, err := st.Seed(ctx, DefaultCatalog()); err != nil || seeded {
				t.Fatalf("second seed: %v %v", seeded, err)
			}

			hive, err := st.FindTaskByName(ctx, "zigred hive")
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if hive.Category.Kind != quest.KindInstance || hive.Task.ActiveDurationMinutes != 360 {
				t.Fatalf("hive=%+v", hive)
			}
			if hive.Record.LastStatus != quest.StatusAvailable {
				t.Fatalf("seeded status=%q", hive.Record.LastStatus)
			}

			at := gametime.Date(2024, 1, 10, 12, 0, 0)
			id := hive.Task.ID
			if err := st.MarkPreNotified(ctx, id); err != nil {
				t.Fatalf("pre: %v", err)
			}
			if err := st.MarkInstanceEntered(ctx, id, at); err != nil {
				t.Fatalf("enter: %v", err)
			}
			got, err := st.GetTask(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			r := got.Record
			if r.PreNotified || r.LastStatus != quest.StatusEntered || !r.InstanceEnteredAt.Valid || !r.InstanceEnteredAt.Time.Equal(at) {
				t.Fatalf("after enter: %+v", r)
			}

			if err := st.MarkNotified(ctx, id, "tg:1:0:42|dc:99", at.AddMinutes(5)); err != nil {
				t.Fatalf("notified: %v", err)
			}
			byHandle, err := st.FindByDeliveryHandle(ctx, "tg:1:0:42")
			if err != nil || byHandle.Task.ID != id {
				t.Fatalf("by handle: %v %+v", err, byHandle.Task)
			}
			if byHandle.Record.LastStatus != quest.StatusNotified || !byHandle.Record.LastNotifiedAt.Time.Equal(at.AddMinutes(5)) {
				t.Fatalf("notified record: %+v", byHandle.Record)
			}
			if full, err := st.FindByDeliveryHandle(ctx, "tg:1:0:42|dc:99"); err != nil || full.Task.ID != id {
				t.Fatalf("by full handle: %v %+v", err, full.Task)
			}
			for _, miss := range []string{"tg:1:0:404", "tg:1:0:4", "dc:99"} {
				if _, err := st.FindByDeliveryHandle(ctx, miss); !errors.Is(err, ErrNotFound) {
					t.Fatalf("handle %q err=%v", miss, err)
				}
			}

			daily, err := st.FindTaskByName(ctx, "Guild Daily Quest")
			if err != nil {
				t.Fatalf("find daily: %v", err)
			}
			if err := st.MarkCompleted(ctx, daily.Task.ID, at); err != nil {
				t.Fatalf("complete: %v", err)
			}
			n, err := st.ResetPolicyTasks(ctx, quest.KindDaily)
			if err != nil || n != 3 {
				t.Fatalf("reset daily n=%d err=%v", n, err)
			}
			daily, _ = st.GetTask(ctx, daily.Task.ID)
			if daily.Record.IsCompleted || daily.Record.LastStatus != quest.StatusReset {
				t.Fatalf("after reset: %+v", daily.Record)
			}
			if !daily.Record.LastCompletedAt.Time.Equal(at) {
				t.Fatalf("reset must keep completion time: %+v", daily.Record)
			}

			if err := st.MarkLastStatus(ctx, 9999, quest.StatusSkipped); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing task err=%v", err)
			}

			set, err := st.Settings(ctx)
			if err != nil || set[SettingNotificationCooldown] != "120" || set[SettingBotActive] != "true" {
				t.Fatalf("settings=%v err=%v", set, err)
			}
			if err := st.SetSetting(ctx, SettingBotActive, "false"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if set, _ := st.Settings(ctx); set[SettingBotActive] != "false" {
				t.Fatalf("bot_active=%q", set[SettingBotActive])
			}

			altars, err := st.CategoryByName(ctx, "altars")
			if err != nil {
				t.Fatalf("category by name: %v", err)
			}
			target := quest.Target{ChatID: -100123, ThreadID: 7}
			if err := st.SetCategoryTarget(ctx, altars.ID, target); err != nil {
				t.Fatalf("set target: %v", err)
			}
			if c, err := st.CategoryByTarget(ctx, target); err != nil || c.ID != altars.ID {
				t.Fatalf("by target: %v %+v", err, c)
			}

			newID, err := st.AddTask(ctx, quest.Task{CategoryID: altars.ID, Name: "Water Altar", CooldownMinutes: 1440, Active: true})
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			added, _ := st.GetTask(ctx, newID)
			if added.Record.LastStatus != quest.StatusInitialized || added.Category.Target != target {
				t.Fatalf("added=%+v", added)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("put dedup: %v", err)
			}
			if got, ok, err := st.GetDedup(ctx, "k"); err != nil || !ok || !got.Equal(until) {
				t.Fatalf("get dedup: %v %v %v", got, ok, err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{Action: "pause", ActorID: 1}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quests.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path, Seed: true}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, err := st.FindTaskByName(ctx, "Dragon Altar")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	at := gametime.Date(2024, 2, 1, 8, 30, 0)
	if err := st.MarkCompleted(ctx, v.Task.ID, at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path, Seed: true}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	v, err = st.GetTask(ctx, v.Task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.Record.IsCompleted || !v.Record.LastCompletedAt.Time.Equal(at) {
		t.Fatalf("record after reopen: %+v", v.Record)
	}
	if all, _ := st.ListTasksWithStatus(ctx); len(all) != 17 {
		t.Fatalf("reseeded? tasks=%d", len(all))
	}
}
