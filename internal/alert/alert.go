// Package alert decides which tasks deserve a chat notification.
//
// Every function here is pure: inputs are evaluated tasks, a settings
// snapshot and the current game time. Mutations are left to the caller.
package alert

import (
	"time"

	"questbot/internal/gametime"
	"questbot/internal/quest"
)

// Settings is the per-cycle snapshot of global knobs.
type Settings struct {
	Active                      bool
	NotificationCooldownMinutes int
	StaleMinutes                int
}

func DefaultSettings() Settings {
	return Settings{Active: true, NotificationCooldownMinutes: 120, StaleMinutes: 60}
}

type Decision int

const (
	Suppress Decision = iota
	Notify
	// ConsumeInitial records the first observed state without notifying.
	ConsumeInitial
)

func (d Decision) String() string {
	switch d {
	case Notify:
		return "notify"
	case ConsumeInitial:
		return "consume_initial"
	default:
		return "suppress"
	}
}

// NeedsPreNotification reports whether a not-yet-ready task enters its
// category's pre-notify window at now.
func NeedsPreNotification(it quest.Evaluated, now gametime.Timestamp) bool {
	if it.Status.State.Ready() || it.Record.PreNotified {
		return false
	}
	window := it.Category.PreNotifyMinutes
	if window <= 0 || it.Status.AvailableAt.IsZero() {
		return false
	}
	left := it.Status.AvailableAt.Sub(now)
	return left > 0 && left <= time.Duration(window)*time.Minute
}

// DecideReady applies the ready-notification rules in order.
func DecideReady(it quest.Evaluated, cooldownMinutes int, now gametime.Timestamp) Decision {
	st := it.Status.State
	if !st.Ready() {
		return Suppress
	}
	rec := it.Record
	if inCooldown(rec, cooldownMinutes, now) &&
		(rec.LastStatus == quest.StatusNotified || rec.LastStatus == quest.LastStatusOf(st)) {
		return Suppress
	}
	switch rec.LastStatus {
	case quest.StatusInitialized:
		return ConsumeInitial
	case quest.StatusSkipped:
		return Suppress
	}
	return Notify
}

func inCooldown(rec quest.Record, cooldownMinutes int, now gametime.Timestamp) bool {
	if !rec.LastNotifiedAt.Valid || cooldownMinutes <= 0 {
		return false
	}
	return now.Sub(rec.LastNotifiedAt.Time) < time.Duration(cooldownMinutes)*time.Minute
}

// IsStale reports a delivered notification old enough to be reissued. A
// record without a handle has nothing to replace.
func IsStale(it quest.Evaluated, staleMinutes int, now gametime.Timestamp) bool {
	if !it.Status.State.Ready() || it.Record.LastStatus != quest.StatusNotified {
		return false
	}
	if it.Record.NotificationHandle == "" {
		return false
	}
	if !it.Record.LastNotifiedAt.Valid || staleMinutes <= 0 {
		return false
	}
	return now.Sub(it.Record.LastNotifiedAt.Time) > time.Duration(staleMinutes)*time.Minute
}

func SelectPre(items []quest.Evaluated, now gametime.Timestamp) []quest.Evaluated {
	var out []quest.Evaluated
	for _, it := range items {
		if NeedsPreNotification(it, now) {
			out = append(out, it)
		}
	}
	return out
}

// ReadyPlan splits ready candidates by decision.
type ReadyPlan struct {
	Notify  []quest.Evaluated
	Consume []quest.Evaluated
}

func SelectReady(items []quest.Evaluated, s Settings, now gametime.Timestamp) ReadyPlan {
	var p ReadyPlan
	for _, it := range items {
		switch DecideReady(it, s.NotificationCooldownMinutes, now) {
		case Notify:
			p.Notify = append(p.Notify, it)
		case ConsumeInitial:
			p.Consume = append(p.Consume, it)
		}
	}
	return p
}

func SelectStale(items []quest.Evaluated, s Settings, now gametime.Timestamp) []quest.Evaluated {
	var out []quest.Evaluated
	for _, it := range items {
		if IsStale(it, s.StaleMinutes, now) {
			out = append(out, it)
		}
	}
	return out
}
