package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"questbot/internal/eventbus"
	"questbot/internal/notifier"
	"questbot/internal/observability/metrics"
	"questbot/internal/quest"
	"questbot/internal/task/engine"
	logx "questbot/pkg/logx"
)

// Job names registered by Register.
const (
	JobCycle          = "quest.cycle"
	JobDailyReset     = "quest.reset.daily"
	JobWeeklyReset    = "quest.reset.weekly"
	JobDailyReminder  = "quest.remind.daily"
	JobWeeklyReminder = "quest.remind.weekly"
	jobKick           = "cycle.kick"
)

// Register installs the cycle, reset and reminder jobs. Calling it again
// replaces earlier registrations.
func (t *Tracker) Register() error {
	if t.sched == nil {
		return fmt.Errorf("tracker: no scheduler")
	}
	opt := t.options()
	hhmm := fmt.Sprintf("%02d:%02d", opt.Rules.DailyHour, opt.Rules.DailyMinute)

	for _, name := range []string{JobCycle, JobDailyReset, JobWeeklyReset, JobDailyReminder, JobWeeklyReminder} {
		t.sched.Remove(name)
	}

	if _, err := t.sched.AddIntervalOpt(JobCycle, opt.CycleEvery, opt.JobTimeout,
		engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1},
		t.runCycleJob); err != nil {
		return fmt.Errorf("register %s: %w", JobCycle, err)
	}

	if _, err := t.sched.AddDaily(JobDailyReset, hhmm, opt.JobTimeout, func(ctx context.Context) error {
		_, err := t.ResetPolicy(ctx, quest.KindDaily)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", JobDailyReset, err)
	}
	if _, err := t.sched.AddWeekly(JobWeeklyReset, hhmm, opt.JobTimeout, func(ctx context.Context) error {
		_, err := t.ResetPolicy(ctx, quest.KindWeekly)
		return err
	}, opt.Rules.WeeklyDay); err != nil {
		return fmt.Errorf("register %s: %w", JobWeeklyReset, err)
	}

	if opt.DailyReminder != "-" {
		if _, err := t.sched.AddDaily(JobDailyReminder, opt.DailyReminder, opt.JobTimeout, func(ctx context.Context) error {
			_, err := t.RemindDaily(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("register %s: %w", JobDailyReminder, err)
		}
	}
	if opt.WeeklyReminder != "-" {
		if _, err := t.sched.AddWeekly(JobWeeklyReminder, opt.WeeklyReminder, opt.JobTimeout, func(ctx context.Context) error {
			_, err := t.RemindWeekly(ctx)
			return err
		}, opt.WeeklyReminderDays...); err != nil {
			return fmt.Errorf("register %s: %w", JobWeeklyReminder, err)
		}
	}

	t.log.Info("tracker jobs registered",
		logx.Duration("cycle_every", opt.CycleEvery),
		logx.String("daily_reset", hhmm),
		logx.String("weekly_reset_day", opt.Rules.WeeklyDay.String()),
	)
	return nil
}

// Kick schedules one cycle to run now, outside the regular interval.
func (t *Tracker) Kick() error {
	if t.sched == nil {
		return fmt.Errorf("tracker: no scheduler")
	}
	_, err := t.sched.AddOnce(jobKick, time.Now(), t.options().JobTimeout, t.runCycleJob)
	return err
}

func (t *Tracker) runCycleJob(ctx context.Context) error {
	_, err := t.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		return nil
	}
	return err
}

// ResetPolicy clears completion for every task of kind. The announcement
// goes to the first category of that kind with a target, or the notifier's
// fallback chat. It is sent whenever the tracker is active, even when no
// task was reset, and skipped while paused.
func (t *Tracker) ResetPolicy(ctx context.Context, kind quest.Kind) (int, error) {
	n, err := t.store.ResetPolicyTasks(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("reset %s tasks: %w", kind, err)
	}
	metrics.ResetsTotal.WithLabelValues(string(kind)).Inc()
	eventbus.Publish(t.bus, eventbus.QuestReset, TaskEvent{Kind: string(kind), Count: n})
	t.log.Info("policy reset", logx.String("kind", string(kind)), logx.Int("tasks", n))

	if !t.active(ctx) {
		return n, nil
	}
	target, err := t.targetForKind(ctx, kind)
	if err != nil {
		t.log.Warn("reset announcement target lookup failed", logx.Err(err))
	}
	if err := t.notif.Announce(ctx, notifier.Announcement{Target: target, Text: notifier.ResetText(kind, n)}); err != nil {
		t.log.Warn("reset announcement failed", logx.String("kind", string(kind)), logx.Err(err))
	}
	return n, nil
}

// RemindDaily announces incomplete daily quests. It returns the names it
// listed; nothing is sent when the list is empty or the tracker is paused.
func (t *Tracker) RemindDaily(ctx context.Context) ([]string, error) {
	names, err := t.remind(ctx, quest.KindDaily)
	if err != nil || len(names) == 0 {
		return names, err
	}
	target, _ := t.targetForKind(ctx, quest.KindDaily)
	if err := t.notif.Announce(ctx, notifier.Announcement{Target: target, Text: notifier.DailyReminderText(names)}); err != nil {
		t.log.Warn("daily reminder failed", logx.Err(err))
	}
	return names, nil
}

// RemindWeekly announces incomplete weekly quests under a header graded by
// how close the weekly reset is.
func (t *Tracker) RemindWeekly(ctx context.Context) ([]string, error) {
	names, err := t.remind(ctx, quest.KindWeekly)
	if err != nil || len(names) == 0 {
		return names, err
	}
	_, header := quest.WeeklyUrgency(t.options().Rules, t.clock.Now())
	target, _ := t.targetForKind(ctx, quest.KindWeekly)
	if err := t.notif.Announce(ctx, notifier.Announcement{Target: target, Text: notifier.WeeklyReminderText(header, names)}); err != nil {
		t.log.Warn("weekly reminder failed", logx.Err(err))
	}
	return names, nil
}

func (t *Tracker) remind(ctx context.Context, kind quest.Kind) ([]string, error) {
	if !t.active(ctx) {
		return nil, nil
	}
	items, _, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var names []string
	for _, it := range items {
		if it.Category.Kind == kind && it.Status.State.Ready() {
			names = append(names, it.Task.Name)
		}
	}
	return names, nil
}

func (t *Tracker) active(ctx context.Context) bool {
	s, err := t.Settings(ctx)
	if err != nil {
		t.log.Warn("read settings failed", logx.Err(err))
		return false
	}
	return s.Active
}

func (t *Tracker) targetForKind(ctx context.Context, kind quest.Kind) (quest.Target, error) {
	cats, err := t.store.ListCategories(ctx)
	if err != nil {
		return quest.Target{}, err
	}
	for _, c := range cats {
		if c.Active && strings.EqualFold(string(c.Kind), string(kind)) && !c.Target.IsZero() {
			return c.Target, nil
		}
	}
	return quest.Target{}, nil
}
