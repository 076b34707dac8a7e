// Package tracker drives quest notifications: the recurring poll cycle,
// reset and reminder jobs, and the query and reaction entry points used by
// the chat commands.
//
// A Tracker holds no quest state of its own. Every run reads the store,
// evaluates tasks against the game clock, lets package alert decide, then
// delivers through the notifier and writes the outcome back.
package tracker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"questbot/internal/alert"
	"questbot/internal/eventbus"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/quest"
	"questbot/internal/storage"
	"questbot/internal/task/scheduler"
	logx "questbot/pkg/logx"
)

// Notifier is the delivery side the tracker depends on.
type Notifier interface {
	Deliver(ctx context.Context, p notifier.Payload) (notifier.Handle, error)
	PreNotify(ctx context.Context, n notifier.PreNotice) (notifier.Handle, error)
	Retract(ctx context.Context, h notifier.Handle) error
	Announce(ctx context.Context, a notifier.Announcement) error
}

// Scheduler is the trigger facility jobs are registered on.
type Scheduler interface {
	AddIntervalOpt(name string, every, timeout time.Duration, opt scheduler.TaskOptions, job scheduler.Job) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job scheduler.Job) (string, error)
	AddWeekly(name, atHHMM string, timeout time.Duration, job scheduler.Job, days ...time.Weekday) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) (string, error)
	Remove(name string) bool
}

// Options tune timing. Zero values take the defaults noted per field.
type Options struct {
	Rules quest.ResetRules
	// CycleEvery is the poll interval (1m).
	CycleEvery time.Duration
	// MessageDelay separates deliveries inside one phase (1s).
	MessageDelay time.Duration
	// FailureDelay follows a failed delivery (2s).
	FailureDelay time.Duration
	// SnoozeDelay is used when a snooze carries no delay (10m).
	SnoozeDelay time.Duration
	// DailyReminder is the HH:MM of the daily reminder; "-" disables it (22:00).
	DailyReminder string
	// WeeklyReminder is the HH:MM of the weekly reminder; "-" disables it (20:00).
	WeeklyReminder string
	// WeeklyReminderDays defaults to Rules.ReminderWeekdays().
	WeeklyReminderDays []time.Weekday
	// JobTimeout bounds every scheduled run (5m).
	JobTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Rules == (quest.ResetRules{}) {
		o.Rules = quest.DefaultResetRules()
	}
	if o.CycleEvery <= 0 {
		o.CycleEvery = time.Minute
	}
	if o.MessageDelay < 0 {
		o.MessageDelay = 0
	} else if o.MessageDelay == 0 {
		o.MessageDelay = time.Second
	}
	if o.FailureDelay < 0 {
		o.FailureDelay = 0
	} else if o.FailureDelay == 0 {
		o.FailureDelay = 2 * time.Second
	}
	if o.SnoozeDelay <= 0 {
		o.SnoozeDelay = 10 * time.Minute
	}
	if o.DailyReminder == "" {
		o.DailyReminder = "22:00"
	}
	if o.WeeklyReminder == "" {
		o.WeeklyReminder = "20:00"
	}
	if len(o.WeeklyReminderDays) == 0 {
		o.WeeklyReminderDays = o.Rules.ReminderWeekdays()
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	return o
}

type Tracker struct {
	store storage.Store
	clock *gametime.Clock
	notif Notifier
	sched Scheduler
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex
	opt Options

	// cycleMu keeps cycles from overlapping, including kicks fired
	// outside the interval schedule.
	cycleMu sync.Mutex
}

func New(store storage.Store, clock *gametime.Clock, n Notifier, sched Scheduler, opt Options, log logx.Logger, bus eventbus.Bus) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = gametime.New(nil)
	}
	return &Tracker{
		store: store,
		clock: clock,
		notif: n,
		sched: sched,
		log:   log,
		bus:   bus,
		opt:   opt.withDefaults(),
	}
}

func (t *Tracker) options() Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opt
}

// Apply swaps the options. Callers re-run Register when schedule times
// changed.
func (t *Tracker) Apply(opt Options) {
	t.mu.Lock()
	t.opt = opt.withDefaults()
	t.mu.Unlock()
}

func (t *Tracker) Rules() quest.ResetRules { return t.options().Rules }

func (t *Tracker) Clock() *gametime.Clock { return t.clock }

// Settings reads the runtime settings snapshot from the store. Unreadable
// values fall back to their defaults.
func (t *Tracker) Settings(ctx context.Context) (alert.Settings, error) {
	kv, err := t.store.Settings(ctx)
	if err != nil {
		return alert.Settings{}, err
	}
	return ParseSettings(kv, t.log), nil
}

// ParseSettings maps the stored key/value settings onto alert.Settings.
func ParseSettings(kv map[string]string, log logx.Logger) alert.Settings {
	s := alert.DefaultSettings()
	if v, ok := kv[storage.SettingBotActive]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			log.Warn("bad setting", logx.String("key", storage.SettingBotActive), logx.String("value", v))
		} else {
			s.Active = b
		}
	}
	intSetting := func(key string, dst *int) {
		v, ok := kv[key]
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			log.Warn("bad setting", logx.String("key", key), logx.String("value", v))
			return
		}
		*dst = n
	}
	intSetting(storage.SettingNotificationCooldown, &s.NotificationCooldownMinutes)
	intSetting(storage.SettingAutoRefresh, &s.StaleMinutes)
	return s
}

// evaluate computes statuses for views at now and logs fail-open results.
func (t *Tracker) evaluate(views []quest.View, now gametime.Timestamp) []quest.Evaluated {
	rules := t.options().Rules
	out := make([]quest.Evaluated, 0, len(views))
	for _, v := range views {
		ev := quest.EvaluateView(v, rules, t.clock, now)
		if ev.Status.Err != nil {
			t.log.Warn("unreadable timestamp, treating task as available",
				logx.Int64("task_id", v.Task.ID),
				logx.String("task", v.Task.Name),
				logx.Err(ev.Status.Err),
			)
		}
		out = append(out, ev)
	}
	return out
}

func (t *Tracker) load(ctx context.Context) ([]quest.Evaluated, gametime.Timestamp, error) {
	views, err := t.store.ListTasksWithStatus(ctx)
	if err != nil {
		return nil, gametime.Timestamp{}, err
	}
	now := t.clock.Now()
	return t.evaluate(views, now), now, nil
}

func (t *Tracker) loadOne(ctx context.Context, id int64) (quest.Evaluated, error) {
	v, err := t.store.GetTask(ctx, id)
	if err != nil {
		return quest.Evaluated{}, err
	}
	return t.evaluate([]quest.View{v}, t.clock.Now())[0], nil
}

func payloadOf(it quest.Evaluated) notifier.Payload {
	return notifier.Payload{
		TaskID:                it.Task.ID,
		Name:                  it.Task.Name,
		Category:              it.Category.Name,
		Kind:                  it.Category.Kind,
		State:                 it.Status.State,
		Message:               it.Status.Message,
		CooldownMinutes:       it.Task.CooldownMinutes,
		ActiveDurationMinutes: it.Task.ActiveDurationMinutes,
		Target:                it.Category.Target,
		Buttons:               true,
	}
}

// TaskEvent is the event bus payload for quest.* events.
type TaskEvent struct {
	TaskID int64  `json:"task_id"`
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
	State  string `json:"state,omitempty"`
	Handle string `json:"handle,omitempty"`
	Count  int    `json:"count,omitempty"`
}

func eventOf(it quest.Evaluated) TaskEvent {
	return TaskEvent{TaskID: it.Task.ID, Name: it.Task.Name, Kind: string(it.Category.Kind), State: it.Status.State.String()}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
