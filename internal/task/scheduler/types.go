package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"questbot/internal/eventbus"
	"questbot/internal/task/engine"
	logx "questbot/pkg/logx"
)

// Config enables triggering and names the zone that cron specs and the
// daily/weekly helpers use. It should match the game clock's zone.
type Config struct {
	Enabled  bool
	Timezone string
}

type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
	HistoryItem   = engine.HistoryItem
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Job is what a trigger submits to the engine.
type Job func(ctx context.Context) error

// entry is a recurring trigger backed by cron.
type entry struct {
	id, name, spec string
	timeout        time.Duration
	opt            TaskOptions
	job            Job
	state          *engine.RunState

	cronID cron.EntryID
	spread time.Duration // first-fire delay only
}

// oneShot is a timer-backed trigger. It outlives Stop so Start can re-arm
// it; ver invalidates a timer that fires after being replaced.
type oneShot struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	engine *engine.Service
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries []entry

	tmu     sync.Mutex
	once    map[string]*oneShot
	running bool

	warnMu sync.Mutex
	warn   map[string]*rate.Sometimes
}

type ScheduleInfo struct {
	ID, Name, Spec string
	Timeout        time.Duration
	Next, Prev     time.Time
	Once           bool
}

// Snapshot is the scheduler view for /health: triggers sorted by name plus
// the engine state behind them.
type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo

	Engine engine.Snapshot
	Retry  TaskOptions
}
