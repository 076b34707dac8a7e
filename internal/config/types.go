package config

import "strings"

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls job execution. Omitted means enabled with defaults
	// whenever the scheduler is enabled.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Game     GameConfig      `json:"game"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives log lines and is the fallback
	// target for categories without their own chat.
	GroupLog string `json:"group_log"`
	// DefaultThreadID is the forum topic used with GroupLog as fallback target.
	DefaultThreadID int `json:"default_thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls triggers. Timezone defaults to game.timezone so
// cron specs and reset times agree.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the execution engine. Durations are Go duration
// strings.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 2,
// circuit_trip_failures 5.
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// "0s" disables the global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
}

// NotifierConfig controls delivery. An omitted section means enabled with
// defaults.
type NotifierConfig struct {
	Enabled         bool           `json:"enabled"`
	Workers         int            `json:"workers"`
	QueueSize       int            `json:"queue_size"`
	RatePerSec      int            `json:"rate_per_sec"`
	RetryMax        int            `json:"retry_max"`
	RetryBase       string         `json:"retry_base"`
	RetryMaxDelay   string         `json:"retry_max_delay"`
	DedupWindow     string         `json:"dedup_window"`
	DedupMaxEntries int            `json:"dedup_max_entries"`
	PersistDedup    bool           `json:"persist_dedup,omitempty"`
	Discord         *DiscordConfig `json:"discord,omitempty"`
}

// DiscordConfig mirrors notifications to a Discord channel webhook.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// StorageConfig selects the record store.
//
//	"storage": { "driver": "sqlite", "path": "./data/questbot.db", "seed": true }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Seed        bool   `json:"seed,omitempty"`
}

// GameConfig holds the reset calendar and poller pacing.
type GameConfig struct {
	Timezone       string `json:"timezone,omitempty"`         // default Europe/Istanbul
	DailyReset     string `json:"daily_reset,omitempty"`      // HH:MM, default 04:00
	WeeklyResetDay string `json:"weekly_reset_day,omitempty"` // default monday

	CycleEvery   string `json:"cycle_every,omitempty"`   // default 1m
	MessageDelay string `json:"message_delay,omitempty"` // default 1s
	FailureDelay string `json:"failure_delay,omitempty"` // default 2s
	Snooze       string `json:"snooze,omitempty"`        // default 10m

	DailyReminder      string   `json:"daily_reminder,omitempty"`       // HH:MM, default 22:00
	WeeklyReminder     string   `json:"weekly_reminder,omitempty"`      // HH:MM, default 20:00
	WeeklyReminderDays []string `json:"weekly_reminder_days,omitempty"` // default 5, 3 and 1 days before reset
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:9090
	Path    string `json:"path,omitempty"` // default /metrics
	// Token is required when Addr is not a loopback address.
	Token string `json:"token,omitempty"`
	// Pprof also serves net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// EngineEnabled resolves task_engine.enabled against the scheduler flag.
func (c *Config) EngineEnabled() bool {
	if c.TaskEngine != nil && c.TaskEngine.Enabled != nil {
		return *c.TaskEngine.Enabled
	}
	return c.Scheduler.Enabled
}

// SchedulerTimezone is the effective trigger zone.
func (c *Config) SchedulerTimezone() string {
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		return tz
	}
	return c.Game.Timezone
}
