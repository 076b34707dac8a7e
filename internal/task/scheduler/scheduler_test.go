package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"questbot/internal/eventbus"
	"questbot/internal/task/engine"
	logx "questbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@every 1m", kind: SpecCron, cron: "@every 1m"},
		{in: "cron:0 4 * * 1", kind: SpecCron, cron: "0 4 * * 1"},
		{in: "1m", kind: SpecInterval, every: time.Minute},
		{in: "00:30", kind: SpecInterval, every: 30 * time.Minute},
		{in: "every:2h", kind: SpecInterval, every: 2 * time.Hour},
		{in: "interval:01:15", kind: SpecInterval, every: 75 * time.Minute},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tt.kind || got.Cron != tt.cron || got.Every != tt.every {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("04:00")
	if err != nil || h != 4 || m != 0 {
		t.Fatalf("got %d:%d err=%v", h, m, err)
	}
	for _, bad := range []string{"4", "24:00", "12:60", "aa:bb"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func newPair(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), bus)
	sch := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), bus)
	eng.Start(context.Background())
	sch.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sch.Stop(ctx)
		eng.Stop(ctx)
	})
	return sch, eng
}

func TestAddOnceRunsThroughEngine(t *testing.T) {
	t.Parallel()
	sch, _ := newPair(t)

	fired := make(chan struct{}, 1)
	if _, err := sch.AddOnce("snooze:1", time.Now().Add(10*time.Millisecond), time.Second, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("once job did not fire")
	}
	if sch.Pending("snooze:1") {
		t.Fatalf("fired once job still pending")
	}
}

func TestAddOnceReplaceAndRemove(t *testing.T) {
	t.Parallel()
	sch, _ := newPair(t)

	hits := make(chan string, 2)
	job := func(tag string) Job {
		return func(context.Context) error { hits <- tag; return nil }
	}
	_, _ = sch.AddOnce("kick", time.Now().Add(time.Hour), 0, job("old"))
	_, _ = sch.AddOnce("kick", time.Now().Add(5*time.Millisecond), 0, job("new"))
	select {
	case got := <-hits:
		if got != "new" {
			t.Fatalf("fired %q, want replacement", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("replacement did not fire")
	}

	_, _ = sch.AddOnce("later", time.Now().Add(50*time.Millisecond), 0, job("later"))
	if !sch.Remove("later") {
		t.Fatalf("Remove returned false")
	}
	select {
	case got := <-hits:
		t.Fatalf("removed job fired: %q", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRegisterUpsertsByName(t *testing.T) {
	t.Parallel()
	sch, _ := newPair(t)
	noop := func(context.Context) error { return nil }

	if _, err := sch.AddDaily("reset.daily", "04:00", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if _, err := sch.AddDaily("reset.daily", "05:30", 0, noop); err != nil {
		t.Fatalf("AddDaily again: %v", err)
	}
	if _, err := sch.AddWeekly("remind.weekly", "20:00", 0, noop, time.Wednesday, time.Friday, time.Sunday); err != nil {
		t.Fatalf("AddWeekly: %v", err)
	}
	if _, err := sch.AddWeekly("none", "20:00", 0, noop); err == nil {
		t.Fatalf("AddWeekly without days should fail")
	}

	specs := map[string]string{}
	for _, it := range sch.Snapshot().Schedules {
		specs[it.Name] = it.Spec
		if it.Next.IsZero() {
			t.Fatalf("%s: no next run", it.Name)
		}
	}
	if len(specs) != 2 {
		t.Fatalf("schedules=%v", specs)
	}
	if specs["reset.daily"] != "30 5 * * *" {
		t.Fatalf("daily spec=%q", specs["reset.daily"])
	}
	if specs["remind.weekly"] != "0 20 * * 3,5,0" {
		t.Fatalf("weekly spec=%q", specs["remind.weekly"])
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	sch := New(Config{Enabled: true}, nil, logx.Nop(), nil)
	if _, err := sch.AddCron("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFiredTriggerIsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	sch := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), bus)
	eng.Start(context.Background())
	sch.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sch.Stop(ctx)
		eng.Stop(ctx)
	}()

	if _, err := sch.AddOnce("kick", time.Now(), time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.ScheduleFired || e.Data != "kick" {
			t.Fatalf("event=%+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no fired event")
	}
}

func TestEnqueueWarningsAreThrottledPerSchedule(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sch := New(Config{}, nil, logx.NewWriter(&buf, "warn"), nil)

	boom := errors.New("queue full")
	sch.reportEnqueueError("a", boom)
	sch.reportEnqueueError("a", boom)
	sch.reportEnqueueError("b", boom)
	sch.reportEnqueueError("b", engine.ErrOverlapSkip)

	if n := strings.Count(buf.String(), "schedule failed to enqueue task"); n != 2 {
		t.Fatalf("warnings=%d: %s", n, buf.String())
	}
}
