package quest

import (
	"errors"
	"testing"
	"time"

	"questbot/internal/gametime"
)

func ts(y int, m time.Month, d, h, min int) gametime.Timestamp {
	return gametime.Date(y, m, d, h, min, 0)
}

func done(at gametime.Timestamp) gametime.NullTimestamp { return gametime.Valid(at) }

func TestCooldownBoundary(t *testing.T) {
	t.Parallel()

	p := Cooldown{Minutes: 1440}
	last := ts(2024, 1, 10, 12, 0)
	c := Completion{LastCompletedAt: done(last)}

	tests := []struct {
		name string
		now  gametime.Timestamp
		want State
	}{
		{"just completed", last, OnCooldown},
		{"one second before", last.AddMinutes(1440).Add(-time.Second), OnCooldown},
		{"exact boundary", last.AddMinutes(1440), Available},
		{"after", last.AddMinutes(2000), Available},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Evaluate(p, c, tt.now)
			if got.State != tt.want {
				t.Fatalf("state=%s want %s (%s)", got.State, tt.want, got.Message)
			}
			if !got.AvailableAt.Equal(last.AddMinutes(1440)) {
				t.Fatalf("availableAt=%s", got.AvailableAt)
			}
		})
	}
}

func TestCooldownNeverCompleted(t *testing.T) {
	t.Parallel()

	got := Evaluate(Cooldown{Minutes: 60}, Completion{}, ts(2024, 1, 1, 0, 0))
	if got.State != Available || got.Message != "Never completed" || !got.AvailableAt.IsZero() {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestMalformedTimestampFailsOpen(t *testing.T) {
	t.Parallel()

	bad := gametime.NullTimestamp{Raw: "yesterday-ish"}
	now := ts(2024, 1, 1, 0, 0)

	for _, p := range []Policy{Cooldown{Minutes: 60}, Instance{ActiveMinutes: 60, CooldownMinutes: 60}} {
		got := Evaluate(p, Completion{LastCompletedAt: bad, InstanceEnteredAt: bad}, now)
		if got.State != Available {
			t.Fatalf("%s: state=%s", p.Kind(), got.State)
		}
		if !errors.Is(got.Err, ErrMalformedTimestamp) {
			t.Fatalf("%s: err=%v", p.Kind(), got.Err)
		}
	}
}

func TestInstancePartition(t *testing.T) {
	t.Parallel()

	p := Instance{ActiveMinutes: 360, CooldownMinutes: 4320}
	entered := ts(2024, 1, 10, 12, 0)
	c := Completion{InstanceEnteredAt: done(entered)}

	tests := []struct {
		after int
		want  State
		msg   string
	}{
		{100, InstanceOpen, "OPEN, closes in 4h 20m"},
		{359, InstanceOpen, "OPEN, closes in 1m"},
		{360, OnCooldown, "Closed, reopens in 3d"},
		{400, OnCooldown, "Closed, reopens in 2d 23h"},
		{4679, OnCooldown, "Closed, reopens in 1m"},
		{4680, Available, "Ready to enter"},
		{4800, Available, "Ready to enter"},
	}
	for _, tt := range tests {
		got := Evaluate(p, c, entered.AddMinutes(tt.after))
		if got.State != tt.want || got.Message != tt.msg {
			t.Fatalf("T+%d: got %s %q want %s %q", tt.after, got.State, got.Message, tt.want, tt.msg)
		}
		if !got.ClosesAt.Before(got.AvailableAt) {
			t.Fatalf("T+%d: closesAt %s not before availableAt %s", tt.after, got.ClosesAt, got.AvailableAt)
		}
	}

	if got := Evaluate(p, Completion{}, entered); got.State != Available || got.Message != "Ready to enter" {
		t.Fatalf("never entered: %+v", got)
	}
}

func TestDailyCompletionIsNotClearedByTime(t *testing.T) {
	t.Parallel()

	p := Daily{Hour: 4}

	got := Evaluate(p, Completion{}, ts(2024, 1, 10, 3, 0))
	if got.State != Available {
		t.Fatalf("03:00 state=%s", got.State)
	}

	c := Completion{IsCompleted: true, LastCompletedAt: done(ts(2024, 1, 10, 3, 5))}
	got = Evaluate(p, c, ts(2024, 1, 10, 3, 5))
	if got.State != Completed {
		t.Fatalf("03:05 state=%s", got.State)
	}
	if want := ts(2024, 1, 10, 4, 0); !got.AvailableAt.Equal(want) {
		t.Fatalf("availableAt=%s want %s", got.AvailableAt, want)
	}
	if got.Message != "Done today, resets in 55m" {
		t.Fatalf("message=%q", got.Message)
	}

	got = Evaluate(p, c, ts(2024, 1, 10, 4, 1))
	if got.State != Completed {
		t.Fatalf("04:01 state=%s", got.State)
	}
	if want := ts(2024, 1, 11, 4, 0); !got.AvailableAt.Equal(want) {
		t.Fatalf("availableAt after reset time=%s want %s", got.AvailableAt, want)
	}
}

func TestWeeklyNextReset(t *testing.T) {
	t.Parallel()

	r := DefaultResetRules()
	// 2024-01-15 is a Monday.
	tests := []struct {
		now  gametime.Timestamp
		want gametime.Timestamp
	}{
		{ts(2024, 1, 15, 3, 59), ts(2024, 1, 15, 4, 0)},
		{ts(2024, 1, 15, 4, 0), ts(2024, 1, 22, 4, 0)},
		{ts(2024, 1, 17, 12, 0), ts(2024, 1, 22, 4, 0)},
		{ts(2024, 1, 21, 23, 59), ts(2024, 1, 22, 4, 0)},
	}
	for _, tt := range tests {
		if got := r.NextWeeklyReset(tt.now); !got.Equal(tt.want) {
			t.Fatalf("NextWeeklyReset(%s)=%s want %s", tt.now, got, tt.want)
		}
	}
}

func TestWeeklyAvailableUrgency(t *testing.T) {
	t.Parallel()

	p := Weekly{Day: time.Monday, Hour: 4}
	tests := []struct {
		now  gametime.Timestamp
		want string
	}{
		{ts(2024, 1, 17, 12, 0), "Not done this week"},
		{ts(2024, 1, 19, 12, 0), "Not done this week ⏰ 3 days left"},
		{ts(2024, 1, 20, 12, 0), "Not done this week ⏰ 2 days left"},
		{ts(2024, 1, 21, 12, 0), "Not done this week ⚠️ LAST DAY!"},
		{ts(2024, 1, 22, 2, 0), "Not done this week"},
	}
	for _, tt := range tests {
		got := Evaluate(p, Completion{}, tt.now)
		if got.State != Available || got.Message != tt.want {
			t.Fatalf("%s: %s %q want %q", tt.now.Weekday(), got.State, got.Message, tt.want)
		}
	}

	got := Evaluate(p, Completion{IsCompleted: true}, ts(2024, 1, 19, 4, 0))
	if got.State != Completed || got.Message != "Done this week, resets in 3d" {
		t.Fatalf("completed weekly: %s %q", got.State, got.Message)
	}
}

func TestWeeklyUrgencyCheckpoints(t *testing.T) {
	t.Parallel()

	r := DefaultResetRules()
	tests := []struct {
		now  gametime.Timestamp
		want Urgency
	}{
		{ts(2024, 1, 17, 20, 0), UrgencyReminder}, // Wednesday
		{ts(2024, 1, 19, 20, 0), UrgencyWarning},  // Friday
		{ts(2024, 1, 21, 20, 0), UrgencyFinal},    // Sunday
		{ts(2024, 1, 18, 20, 0), UrgencyNone},     // Thursday
	}
	seen := map[string]bool{}
	for _, tt := range tests {
		got, msg := WeeklyUrgency(r, tt.now)
		if got != tt.want {
			t.Fatalf("%s: urgency=%s want %s", tt.now.Weekday(), got, tt.want)
		}
		if seen[msg] {
			t.Fatalf("duplicate message %q", msg)
		}
		seen[msg] = true
	}
	if _, msg := WeeklyUrgency(r, ts(2024, 1, 21, 20, 0)); msg != "⚠️ LAST CHANCE! Weekly quests reset tomorrow at 04:00!" {
		t.Fatalf("final message=%q", msg)
	}

	days := r.ReminderWeekdays()
	want := []time.Weekday{time.Wednesday, time.Friday, time.Sunday}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("ReminderWeekdays=%v want %v", days, want)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	t.Parallel()

	now := ts(2024, 1, 10, 12, 0)
	c := Completion{LastCompletedAt: done(now.AddMinutes(-30)), InstanceEnteredAt: done(now.AddMinutes(-30))}
	for _, p := range []Policy{Daily{Hour: 4}, Weekly{Day: time.Monday, Hour: 4}, Cooldown{Minutes: 90}, Instance{ActiveMinutes: 60, CooldownMinutes: 60}, Unrecognized{Name: "lunar"}} {
		a, b := Evaluate(p, c, now), Evaluate(p, c, now)
		if a.State != b.State || a.Message != b.Message || !a.AvailableAt.Equal(b.AvailableAt) || !a.ClosesAt.Equal(b.ClosesAt) {
			t.Fatalf("%s: %+v != %+v", p.Kind(), a, b)
		}
	}
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()

	r := ResetRules{DailyHour: 5, DailyMinute: 30, WeeklyDay: time.Thursday}
	if p, ok := PolicyFor("Daily", r, 0, 0).(Daily); !ok || p.Hour != 5 || p.Minute != 30 {
		t.Fatalf("daily: %#v", p)
	}
	if p, ok := PolicyFor("weekly", r, 0, 0).(Weekly); !ok || p.Day != time.Thursday {
		t.Fatalf("weekly: %#v", p)
	}
	if p, ok := PolicyFor("instance", r, 10, 20).(Instance); !ok || p.ActiveMinutes != 20 || p.CooldownMinutes != 10 {
		t.Fatalf("instance: %#v", p)
	}
	got := Evaluate(PolicyFor("lunar", r, 0, 0), Completion{}, ts(2024, 1, 1, 0, 0))
	if got.State != Unknown || got.Message != "Unknown reset policy: lunar" {
		t.Fatalf("unknown: %+v", got)
	}
}
