package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls execution. Zero values take the defaults noted below.
type Config struct {
	Enabled   bool
	Workers   int // default 2
	QueueSize int // default 256

	DefaultTimeout time.Duration // applied when Task.Timeout is 0; 0 means none
	MaxQueueDelay  time.Duration // tasks queued longer are dropped; 0 keeps all

	HistorySize int // default 200
	RetryMax    int

	// Breaker: consecutive failures of one task name open a cooldown that
	// doubles from CircuitBaseDelay up to CircuitMaxDelay. A streak older
	// than CircuitResetAfter is forgotten. CircuitTripFailures < 0 disables.
	CircuitTripFailures int           // default 5
	CircuitBaseDelay    time.Duration // default 5s
	CircuitMaxDelay     time.Duration // default 2m
	CircuitResetAfter   time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	if c.CircuitBaseDelay <= 0 {
		c.CircuitBaseDelay = 5 * time.Second
	}
	if c.CircuitMaxDelay <= 0 {
		c.CircuitMaxDelay = 2 * time.Minute
	}
	if c.CircuitResetAfter <= 0 {
		c.CircuitResetAfter = 5 * time.Minute
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap OverlapPolicy

	RetryMax      int // < 0 never retries; 0 uses Config.RetryMax
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction, 0.2 = ±20%

	CircuitTripFailures int // < 0 exempts the task; 0 uses Config
}

const (
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 15 * time.Second
	defaultRetryJitter   = 0.2
)

// DefaultTaskOptions returns the options a task without overrides runs with.
func DefaultTaskOptions(cfg Config) TaskOptions {
	return TaskOptions{}.resolve(cfg)
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryMax = max(o.RetryMax, 0)
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState gates OverlapSkipIfRunning. A task counts as running from the
// moment it is queued until its last attempt ends.
type RunState struct{ busy atomic.Bool }

func (s *RunState) acquire() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Busy reports whether a run is queued or executing.
func (s *RunState) Busy() bool { return s != nil && s.busy.Load() }

// Task is one unit of work. State, when set, is shared between tasks that
// must not overlap; otherwise tasks with the same Name share one.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Observer sees the outcome of every task that ran.
type Observer func(ev TaskEvent, err error)

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	CircuitTotal int
	CircuitOpen  int

	History []HistoryItem // oldest first
}

// history keeps the last n items in a ring.
type history struct {
	items []HistoryItem
	next  int
	full  bool
}

func (h *history) add(n int, it HistoryItem) {
	if len(h.items) != n {
		old := h.list()
		if len(old) > n {
			old = old[len(old)-n:]
		}
		h.items = make([]HistoryItem, n)
		h.next = copy(h.items, old) % n
		h.full = len(old) == n
	}
	h.items[h.next] = it
	h.next = (h.next + 1) % n
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) list() []HistoryItem {
	if !h.full {
		return append([]HistoryItem(nil), h.items[:h.next]...)
	}
	out := make([]HistoryItem, 0, len(h.items))
	out = append(out, h.items[h.next:]...)
	return append(out, h.items[:h.next]...)
}
