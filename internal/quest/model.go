package quest

import "questbot/internal/gametime"

// LastStatus is the persisted marker the notification policy keys on.
type LastStatus string

const (
	StatusInitialized LastStatus = "initialized"
	StatusAvailable   LastStatus = "available"
	StatusNotified    LastStatus = "notified"
	StatusCompleted   LastStatus = "completed"
	StatusEntered     LastStatus = "entered"
	StatusReset       LastStatus = "reset"
	StatusSkipped     LastStatus = "skipped"
	// StatusOpen is what an initial observation of an open instance records.
	StatusOpen LastStatus = "open"
)

// LastStatusOf is the marker recorded when a state is observed.
func LastStatusOf(s State) LastStatus { return LastStatus(s.String()) }

// Target addresses a chat, optionally a forum thread inside it.
type Target struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

func (t Target) IsZero() bool { return t.ChatID == 0 }

type Category struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Kind                 Kind   `json:"reset_type"`
	Emoji                string `json:"emoji,omitempty"`
	Target               Target `json:"target"`
	Active               bool   `json:"active"`
	PreNotifyMinutes     int    `json:"pre_notify_minutes"`
	ShowResourceReminder bool   `json:"show_resource_reminder"`
}

type Task struct {
	ID                    int64  `json:"id"`
	CategoryID            int64  `json:"category_id"`
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	CooldownMinutes       int    `json:"cooldown_minutes"`
	ActiveDurationMinutes int    `json:"active_duration_minutes"`
	Active                bool   `json:"active"`
}

// Record is the mutable status of one task.
type Record struct {
	TaskID             int64
	IsCompleted        bool
	LastCompletedAt    gametime.NullTimestamp
	InstanceEnteredAt  gametime.NullTimestamp
	LastNotifiedAt     gametime.NullTimestamp
	NotificationHandle string
	LastStatus         LastStatus
	PreNotified        bool
}

func (r Record) Completion() Completion {
	return Completion{
		IsCompleted:       r.IsCompleted,
		LastCompletedAt:   r.LastCompletedAt,
		InstanceEnteredAt: r.InstanceEnteredAt,
	}
}

// View is a task joined with its category and status record.
type View struct {
	Task     Task
	Category Category
	Record   Record
}

func (v View) Policy(r ResetRules) Policy {
	return PolicyFor(string(v.Category.Kind), r, v.Task.CooldownMinutes, v.Task.ActiveDurationMinutes)
}

// Evaluated is a view with its status computed at one instant.
type Evaluated struct {
	View
	Status StatusResult
}

// EvaluateView resolves stored timestamps through c and evaluates v.
func EvaluateView(v View, r ResetRules, c *gametime.Clock, now gametime.Timestamp) Evaluated {
	if c != nil {
		v.Record.LastCompletedAt = c.Resolve(v.Record.LastCompletedAt)
		v.Record.InstanceEnteredAt = c.Resolve(v.Record.InstanceEnteredAt)
		v.Record.LastNotifiedAt = c.Resolve(v.Record.LastNotifiedAt)
	}
	return Evaluated{View: v, Status: Evaluate(v.Policy(r), v.Record.Completion(), now)}
}
