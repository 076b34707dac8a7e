package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"questbot/internal/config"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/observability/metrics"
	"questbot/internal/quest"
	"questbot/internal/storage"
	"questbot/internal/task/engine"
	"questbot/internal/task/scheduler"
	"questbot/internal/tracker"
	logx "questbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "memory":
		if driver == "file" && path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path, Seed: sc.Seed}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Seed: sc.Seed}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     cfg.EngineEnabled(),
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
		RetryMax:    2,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	for _, f := range []struct {
		key string
		v   int
		dst *int
	}{
		{"task_engine.workers", te.Workers, &out.Workers},
		{"task_engine.queue_size", te.QueueSize, &out.QueueSize},
		{"task_engine.history_size", te.HistorySize, &out.HistorySize},
		{"task_engine.retry_max", te.RetryMax, &out.RetryMax},
	} {
		if f.v < 0 {
			return engine.Config{}, fmt.Errorf("%s must be >= 0", f.key)
		}
		if f.v != 0 {
			*f.dst = f.v
		}
	}
	out.CircuitTripFailures = te.CircuitTripFailures

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitBaseDelay, err = config.ParseDurationField("task_engine.circuit_base_delay", te.CircuitBaseDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitMaxDelay, err = config.ParseDurationField("task_engine.circuit_max_delay", te.CircuitMaxDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapSchedulerConfig runs triggers in the game zone unless scheduler.timezone
// overrides it. Zones missing from the tz database fall back like the clock.
func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := cfg.SchedulerTimezone()
	if tz == "" {
		tz = gametime.DefaultZone
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}
}

// mapNotifierConfig falls back to config.DefaultNotifier when the section
// is omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	for _, f := range []struct {
		key string
		v   int
	}{
		{"notifier.workers", n.Workers},
		{"notifier.queue_size", n.QueueSize},
		{"notifier.rate_per_sec", n.RatePerSec},
		{"notifier.retry_max", n.RetryMax},
		{"notifier.dedup_max_entries", n.DedupMaxEntries},
	} {
		if f.v < 0 {
			return notifier.Config{}, fmt.Errorf("%s must be >= 0", f.key)
		}
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// discordSink returns nil when the mirror is not configured.
func discordSink(cfg *config.Config, clock *gametime.Clock) (*notifier.DiscordSink, error) {
	if cfg.Notifier == nil || cfg.Notifier.Discord == nil || !cfg.Notifier.Discord.Enabled {
		return nil, nil
	}
	d := cfg.Notifier.Discord
	url := strings.TrimSpace(d.WebhookURL)
	if !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("notifier.discord.webhook_url must be an https URL")
	}
	timeout, err := config.ParseDurationOrDefault("notifier.discord.timeout", d.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return notifier.NewDiscordSink(url, d.Username, timeout, clock), nil
}

// fallbackTarget is where cards for categories without a chat go.
func fallbackTarget(cfg *config.Config) quest.Target {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return quest.Target{}
	}
	return quest.Target{ChatID: id, ThreadID: cfg.Telegram.DefaultThreadID}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chatID, _ := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapMetricsConfig(cfg *config.Config) (metrics.Config, error) {
	mc := cfg.Metrics
	out := metrics.Config{
		Enabled: mc.Enabled,
		Addr:    strings.TrimSpace(mc.Addr),
		Path:    strings.TrimSpace(mc.Path),
		Token:   strings.TrimSpace(mc.Token),
		Pprof:   mc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:9090"
	}
	if out.Path == "" {
		out.Path = "/metrics"
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("metrics.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("metrics: binding to non-loopback addr requires token")
		}
	}
	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// gameSettings is the parsed game section.
type gameSettings struct {
	Location *time.Location
	Fallback bool // zone unknown to the tz database, fixed UTC+3 used
	Options  tracker.Options
}

func mapGameConfig(cfg *config.Config) (gameSettings, error) {
	g := cfg.Game
	var out gameSettings
	out.Location, out.Fallback = gametime.LoadZone(g.Timezone)

	rules := quest.DefaultResetRules()
	if s := strings.TrimSpace(g.DailyReset); s != "" {
		h, m, err := scheduler.ParseHHMM(s)
		if err != nil {
			return out, fmt.Errorf("game.daily_reset: %w", err)
		}
		rules.DailyHour, rules.DailyMinute = h, m
	}
	if s := strings.TrimSpace(g.WeeklyResetDay); s != "" {
		d, err := parseWeekday(s)
		if err != nil {
			return out, fmt.Errorf("game.weekly_reset_day: %w", err)
		}
		rules.WeeklyDay = d
	}

	opt := tracker.Options{Rules: rules}
	var err error
	if opt.CycleEvery, err = config.ParseDurationField("game.cycle_every", g.CycleEvery); err != nil {
		return out, err
	}
	if opt.MessageDelay, err = config.ParseDurationField("game.message_delay", g.MessageDelay); err != nil {
		return out, err
	}
	if opt.FailureDelay, err = config.ParseDurationField("game.failure_delay", g.FailureDelay); err != nil {
		return out, err
	}
	if opt.SnoozeDelay, err = config.ParseDurationField("game.snooze", g.Snooze); err != nil {
		return out, err
	}
	for _, r := range []struct {
		key string
		v   string
		dst *string
	}{
		{"game.daily_reminder", g.DailyReminder, &opt.DailyReminder},
		{"game.weekly_reminder", g.WeeklyReminder, &opt.WeeklyReminder},
	} {
		v := strings.TrimSpace(r.v)
		if v == "" || v == "-" {
			*r.dst = v
			continue
		}
		if _, _, err := scheduler.ParseHHMM(v); err != nil {
			return out, fmt.Errorf("%s: %w", r.key, err)
		}
		*r.dst = v
	}
	for _, s := range g.WeeklyReminderDays {
		d, err := parseWeekday(s)
		if err != nil {
			return out, fmt.Errorf("game.weekly_reminder_days: %w", err)
		}
		opt.WeeklyReminderDays = append(opt.WeeklyReminderDays, d)
	}
	out.Options = opt
	return out, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// validate checks everything mapped at startup so a bad hot reload is
// rejected before it is committed.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := discordSink(cfg, nil); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGameConfig(cfg); err != nil {
		return err
	}
	return nil
}
