package quest

import (
	"errors"
	"fmt"

	"questbot/internal/gametime"
)

// ErrMalformedTimestamp marks a result computed while a stored time could
// not be read. Such tasks are reported as available.
var ErrMalformedTimestamp = errors.New("quest: malformed timestamp")

type State int

const (
	Unknown State = iota
	Available
	Completed
	OnCooldown
	InstanceOpen
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Completed:
		return "completed"
	case OnCooldown:
		return "on_cooldown"
	case InstanceOpen:
		return "open"
	default:
		return "unknown"
	}
}

func (s State) Emoji() string {
	switch s {
	case Available:
		return "🟢"
	case Completed:
		return "✅"
	case OnCooldown:
		return "🔴"
	case InstanceOpen:
		return "🔓"
	default:
		return "❓"
	}
}

// Ready reports states that warrant a ready notification.
func (s State) Ready() bool { return s == Available || s == InstanceOpen }

// Completion is the recorded part of a task status that evaluation reads.
type Completion struct {
	IsCompleted       bool
	LastCompletedAt   gametime.NullTimestamp
	InstanceEnteredAt gametime.NullTimestamp
}

// StatusResult is the outcome of one evaluation. Zero timestamps are absent.
type StatusResult struct {
	State       State
	Message     string
	AvailableAt gametime.Timestamp
	ClosesAt    gametime.Timestamp
	// Err is ErrMalformedTimestamp (wrapped) when the fail-open rule applied.
	Err error
}

// Evaluate computes the status of a task under p at now.
func Evaluate(p Policy, c Completion, now gametime.Timestamp) StatusResult {
	if p == nil {
		return Unrecognized{}.evaluate(c, now)
	}
	return p.evaluate(c, now)
}

func (p Daily) evaluate(c Completion, now gametime.Timestamp) StatusResult {
	next := p.rules().NextDailyReset(now)
	if c.IsCompleted {
		return StatusResult{
			State:       Completed,
			Message:     "Done today, resets in " + FormatRemaining(next, now),
			AvailableAt: next,
		}
	}
	return StatusResult{State: Available, Message: "Not done today", AvailableAt: next}
}

func (p Weekly) evaluate(c Completion, now gametime.Timestamp) StatusResult {
	r := p.rules()
	next := r.NextWeeklyReset(now)
	if c.IsCompleted {
		return StatusResult{
			State:       Completed,
			Message:     "Done this week, resets in " + FormatRemaining(next, now),
			AvailableAt: next,
		}
	}
	msg := "Not done this week"
	switch days := r.DaysUntilWeekly(now); {
	case days == 1:
		msg += " ⚠️ LAST DAY!"
	case days == 2 || days == 3:
		msg += fmt.Sprintf(" ⏰ %d days left", days)
	}
	return StatusResult{State: Available, Message: msg, AvailableAt: next}
}

func (p Cooldown) evaluate(c Completion, now gametime.Timestamp) StatusResult {
	last := c.LastCompletedAt
	if last.Malformed() {
		return StatusResult{
			State:   Available,
			Message: "Completion time unreadable",
			Err:     fmt.Errorf("%w: last_completed_at %q", ErrMalformedTimestamp, last.Raw),
		}
	}
	if !last.Valid {
		return StatusResult{State: Available, Message: "Never completed"}
	}
	at := last.Time.AddMinutes(p.Minutes)
	if !now.Before(at) {
		return StatusResult{State: Available, Message: "Ready", AvailableAt: at}
	}
	return StatusResult{
		State:       OnCooldown,
		Message:     "Ready in " + FormatRemaining(at, now),
		AvailableAt: at,
	}
}

func (p Instance) evaluate(c Completion, now gametime.Timestamp) StatusResult {
	entered := c.InstanceEnteredAt
	if entered.Malformed() {
		return StatusResult{
			State:   Available,
			Message: "Entry time unreadable",
			Err:     fmt.Errorf("%w: instance_entered_at %q", ErrMalformedTimestamp, entered.Raw),
		}
	}
	if !entered.Valid {
		return StatusResult{State: Available, Message: "Ready to enter"}
	}
	closes := entered.Time.AddMinutes(p.ActiveMinutes)
	avail := closes.AddMinutes(p.CooldownMinutes)
	switch {
	case now.Before(closes):
		return StatusResult{
			State:       InstanceOpen,
			Message:     "OPEN, closes in " + FormatRemaining(closes, now),
			AvailableAt: avail,
			ClosesAt:    closes,
		}
	case now.Before(avail):
		return StatusResult{
			State:       OnCooldown,
			Message:     "Closed, reopens in " + FormatRemaining(avail, now),
			AvailableAt: avail,
			ClosesAt:    closes,
		}
	default:
		return StatusResult{State: Available, Message: "Ready to enter", AvailableAt: avail, ClosesAt: closes}
	}
}

func (u Unrecognized) evaluate(_ Completion, _ gametime.Timestamp) StatusResult {
	name := u.Name
	if name == "" {
		name = "(none)"
	}
	return StatusResult{State: Unknown, Message: "Unknown reset policy: " + name}
}
