package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"questbot/internal/eventbus"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/observability/metrics"
	"questbot/internal/quest"
	"questbot/internal/storage"
	logx "questbot/pkg/logx"
	"questbot/pkg/tgui"
)

const stampLayout = "02/01 15:04"

// Reaction is the outcome of a user action on a task. Reply confirms the
// action; Replace is the text the original notification should become,
// empty when the message is gone.
type Reaction struct {
	Task    quest.Evaluated
	Reply   string
	Replace string
}

// OnComplete records completion at the current game time. Instances are
// recorded as entered.
func (t *Tracker) OnComplete(ctx context.Context, id int64) (Reaction, error) {
	v, err := t.store.GetTask(ctx, id)
	if err != nil {
		return Reaction{}, err
	}
	now := t.clock.Now()
	rules := t.options().Rules

	var reply string
	if v.Category.Kind == quest.KindInstance {
		if err := t.store.MarkInstanceEntered(ctx, id, now); err != nil {
			return Reaction{}, fmt.Errorf("mark entered: %w", err)
		}
		closes := now.AddMinutes(v.Task.ActiveDurationMinutes)
		next := closes.AddMinutes(v.Task.CooldownMinutes)
		reply = fmt.Sprintf("🏰 %s entered!\n⏰ Closes at %s\n🔄 Next entry: %s",
			v.Task.Name, closes.Format("15:04"), next.Format(stampLayout))
	} else {
		if err := t.store.MarkCompleted(ctx, id, now); err != nil {
			return Reaction{}, fmt.Errorf("mark completed: %w", err)
		}
		reply = completedReply(v, rules, now)
	}

	cur, err := t.loadOne(ctx, id)
	if err != nil {
		return Reaction{}, err
	}
	metrics.ReactionsTotal.WithLabelValues("done").Inc()
	eventbus.Publish(t.bus, eventbus.QuestCompleted, eventOf(cur))
	t.log.Info("task completed", logx.Int64("task_id", id), logx.String("task", v.Task.Name))
	return Reaction{
		Task:    cur,
		Reply:   reply,
		Replace: "✅ " + strikeName(v.Task.Name) + " - Done",
	}, nil
}

func completedReply(v quest.View, rules quest.ResetRules, now gametime.Timestamp) string {
	head := "✅ " + v.Task.Name + " completed!"
	switch v.Category.Kind {
	case quest.KindDaily:
		return head + "\n🔄 Reset: " + rules.NextDailyReset(now).Format(stampLayout)
	case quest.KindWeekly:
		return head + "\n🔄 Reset: " + rules.NextWeeklyReset(now).Format(stampLayout)
	case quest.KindCooldown:
		ready := now.AddMinutes(v.Task.CooldownMinutes)
		return head + "\n⏱️ Cooldown: " + quest.FormatDuration(v.Task.CooldownMinutes) +
			"\n⏰ Ready again: " + ready.Format(stampLayout)
	default:
		return head
	}
}

// OnSkip suppresses notifications for the task until its next reset or
// completion.
func (t *Tracker) OnSkip(ctx context.Context, id int64) (Reaction, error) {
	if _, err := t.store.GetTask(ctx, id); err != nil {
		return Reaction{}, err
	}
	if err := t.store.MarkLastStatus(ctx, id, quest.StatusSkipped); err != nil {
		return Reaction{}, fmt.Errorf("mark skipped: %w", err)
	}
	cur, err := t.loadOne(ctx, id)
	if err != nil {
		return Reaction{}, err
	}
	metrics.ReactionsTotal.WithLabelValues("skip").Inc()
	eventbus.Publish(t.bus, eventbus.QuestSkipped, eventOf(cur))
	t.log.Info("task skipped", logx.Int64("task_id", id), logx.String("task", cur.Task.Name))
	return Reaction{
		Task:    cur,
		Reply:   "⏭️ " + cur.Task.Name + " skipped",
		Replace: "⏭️ " + strikeName(cur.Task.Name) + " - Skipped",
	}, nil
}

// OnSnooze retracts the notification behind handle and schedules a fresh
// check after delay. The check notifies again only when the task is still
// ready at that moment. A non-positive delay uses the configured default.
func (t *Tracker) OnSnooze(ctx context.Context, id int64, handle notifier.Handle, delay time.Duration) (Reaction, error) {
	if t.sched == nil {
		return Reaction{}, fmt.Errorf("tracker: no scheduler")
	}
	cur, err := t.loadOne(ctx, id)
	if err != nil {
		return Reaction{}, err
	}
	if delay <= 0 {
		delay = t.options().SnoozeDelay
	}
	if handle != "" {
		if err := t.notif.Retract(ctx, handle); err != nil {
			t.log.Debug("retract snoozed message failed", logx.String("handle", string(handle)), logx.Err(err))
		}
	}

	name := snoozeJobName(id)
	if _, err := t.sched.AddOnce(name, time.Now().Add(delay), t.options().JobTimeout, func(ctx context.Context) error {
		return t.snoozeFired(ctx, id)
	}); err != nil {
		return Reaction{}, fmt.Errorf("schedule snooze: %w", err)
	}

	metrics.ReactionsTotal.WithLabelValues("snooze").Inc()
	eventbus.Publish(t.bus, eventbus.QuestSnoozed, eventOf(cur))
	t.log.Info("task snoozed", logx.Int64("task_id", id), logx.Duration("delay", delay))
	return Reaction{
		Task:  cur,
		Reply: fmt.Sprintf("⏰ %s snoozed for %s", cur.Task.Name, quest.FormatDuration(int(delay/time.Minute))),
	}, nil
}

func snoozeJobName(id int64) string { return "snooze:" + strconv.FormatInt(id, 10) }

func (t *Tracker) snoozeFired(ctx context.Context, id int64) error {
	if !t.active(ctx) {
		return nil
	}
	cur, err := t.loadOne(ctx, id)
	if err != nil {
		return fmt.Errorf("snooze lookup: %w", err)
	}
	if !cur.Status.State.Ready() {
		t.log.Debug("snooze expired, task no longer ready", logx.Int64("task_id", id), logx.String("state", cur.Status.State.String()))
		return nil
	}
	if !t.notify(ctx, cur, t.clock.Now()) {
		return fmt.Errorf("snooze re-notify %d failed", id)
	}
	eventbus.Publish(t.bus, eventbus.QuestReady, eventOf(cur))
	return nil
}

// Pause stops notification cycles and announcements until Resume.
func (t *Tracker) Pause(ctx context.Context) error {
	if err := t.store.SetSetting(ctx, storage.SettingBotActive, "false"); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	eventbus.Publish(t.bus, eventbus.TrackerPaused, nil)
	t.log.Info("tracker paused")
	return nil
}

// Resume re-enables notifications and schedules an immediate cycle.
func (t *Tracker) Resume(ctx context.Context) error {
	if err := t.store.SetSetting(ctx, storage.SettingBotActive, "true"); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	eventbus.Publish(t.bus, eventbus.TrackerResumed, nil)
	t.log.Info("tracker resumed")
	if err := t.Kick(); err != nil {
		t.log.Warn("schedule cycle kick failed", logx.Err(err))
	}
	return nil
}

// strikeName renders name struck through in Telegram HTML.
func strikeName(name string) string { return tgui.S(name).String() }
