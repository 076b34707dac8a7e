package notifier

import (
	"strings"
	"time"

	"questbot/internal/quest"
)

// Config controls delivery and the async announcement pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Handle identifies a delivered message: "<sink>:<sink specific id>".
// Deliveries that reached mirrors join the handles with '|', primary first.
type Handle string

// Sink returns the sink name prefix of the primary part of h.
func (h Handle) Sink() string {
	name, _, ok := strings.Cut(string(h.Primary()), ":")
	if !ok {
		return ""
	}
	return name
}

// Primary is the handle issued by the primary sink.
func (h Handle) Primary() Handle {
	p, _, _ := strings.Cut(string(h), "|")
	return Handle(p)
}

// Parts splits a composite handle.
func (h Handle) Parts() []Handle {
	if h == "" {
		return nil
	}
	ss := strings.Split(string(h), "|")
	out := make([]Handle, 0, len(ss))
	for _, p := range ss {
		if p != "" {
			out = append(out, Handle(p))
		}
	}
	return out
}

func joinHandles(hs []Handle) Handle {
	ss := make([]string, 0, len(hs))
	for _, h := range hs {
		ss = append(ss, string(h))
	}
	return Handle(strings.Join(ss, "|"))
}

// Payload is what the tracker hands over for a ready notification.
type Payload struct {
	TaskID                int64
	Name                  string
	Category              string
	Kind                  quest.Kind
	State                 quest.State
	Message               string
	CooldownMinutes       int
	ActiveDurationMinutes int
	Target                quest.Target
	// Buttons attaches the done/skip/snooze actions.
	Buttons bool
}

// PreNotice announces a task that is about to become ready.
type PreNotice struct {
	TaskID               int64
	Name                 string
	Minutes              int
	ShowResourceReminder bool
	Target               quest.Target
}

// Announcement is a free-text broadcast (resets, reminders).
type Announcement struct {
	Target quest.Target
	Text   string
}

// Action is a reaction button attached to a ready card.
type Action string

const (
	ActionDone   Action = "done"
	ActionSkip   Action = "skip"
	ActionSnooze Action = "snooze"
)

// Card is a rendered, sink-neutral message.
type Card struct {
	Kind    string // ready, pre, announce
	Target  quest.Target
	Emoji   string
	Title   string
	Lines   []string
	Color   int
	TaskID  int64
	Actions []Action
}

type HistoryItem struct {
	At     time.Time
	Kind   string
	Text   string
	Handle Handle
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	ID       string    `json:"id,omitempty"` // announcements only
	Sink     string    `json:"sink,omitempty"`
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	TaskID   int64     `json:"task_id,omitempty"`
	Key      string    `json:"key,omitempty"`
	Handle   string    `json:"handle,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
