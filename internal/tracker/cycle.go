package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questbot/internal/alert"
	"questbot/internal/eventbus"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/observability/metrics"
	"questbot/internal/quest"
	logx "questbot/pkg/logx"
)

// ErrCycleRunning is returned by RunCycle when another cycle holds the lock.
var ErrCycleRunning = errors.New("tracker: cycle already running")

// CycleReport counts what one cycle did.
type CycleReport struct {
	Paused      bool
	PreNotified int
	Notified    int
	Consumed    int
	Refreshed   int
	Failed      int
}

// RunCycle runs one poll: pre-notifications, ready notifications, then
// stale refreshes. Delivery failures are logged and leave the record
// untouched so the next cycle retries. Only a failed listing is returned.
func (t *Tracker) RunCycle(ctx context.Context) (CycleReport, error) {
	var rep CycleReport
	if !t.cycleMu.TryLock() {
		metrics.CyclesTotal.WithLabelValues("overlap").Inc()
		return rep, ErrCycleRunning
	}
	defer t.cycleMu.Unlock()

	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	s, err := t.Settings(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("read settings: %w", err)
	}
	if !s.Active {
		rep.Paused = true
		metrics.CyclesTotal.WithLabelValues("paused").Inc()
		return rep, nil
	}

	if err := t.prePhase(ctx, &rep); err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return rep, err
	}
	if err := t.readyPhase(ctx, s, &rep); err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return rep, err
	}
	if err := t.stalePhase(ctx, s, &rep); err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return rep, err
	}

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	if rep.PreNotified+rep.Notified+rep.Refreshed+rep.Failed > 0 {
		t.log.Info("cycle done",
			logx.Int("pre", rep.PreNotified),
			logx.Int("notified", rep.Notified),
			logx.Int("consumed", rep.Consumed),
			logx.Int("refreshed", rep.Refreshed),
			logx.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

func (t *Tracker) observeStates(items []quest.Evaluated) {
	counts := map[quest.State]int{}
	for _, it := range items {
		counts[it.Status.State]++
	}
	for _, st := range []quest.State{quest.Available, quest.Completed, quest.OnCooldown, quest.InstanceOpen, quest.Unknown} {
		metrics.TasksByState.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// pace sleeps between deliveries; false means the context ended.
func (t *Tracker) pace(ctx context.Context, failed bool) bool {
	opt := t.options()
	if failed {
		return sleepCtx(ctx, opt.FailureDelay)
	}
	return sleepCtx(ctx, opt.MessageDelay)
}

func (t *Tracker) prePhase(ctx context.Context, rep *CycleReport) error {
	items, now, err := t.load(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	t.observeStates(items)

	for i, it := range alert.SelectPre(items, now) {
		if i > 0 && !t.pace(ctx, false) {
			return nil
		}
		minutes := now.MinutesUntil(it.Status.AvailableAt)
		h, err := t.notif.PreNotify(ctx, notifier.PreNotice{
			TaskID:               it.Task.ID,
			Name:                 it.Task.Name,
			Minutes:              minutes,
			ShowResourceReminder: it.Category.ShowResourceReminder,
			Target:               it.Category.Target,
		})
		if err != nil {
			rep.Failed++
			t.log.Warn("pre-notification failed", logx.Int64("task_id", it.Task.ID), logx.String("task", it.Task.Name), logx.Err(err))
			if !t.pace(ctx, true) {
				return nil
			}
			continue
		}
		if err := t.store.MarkPreNotified(ctx, it.Task.ID); err != nil {
			t.log.Error("mark pre-notified failed", logx.Int64("task_id", it.Task.ID), logx.Err(err))
			continue
		}
		rep.PreNotified++
		metrics.DecisionsTotal.WithLabelValues("pre_notify").Inc()
		ev := eventOf(it)
		ev.Handle = string(h)
		eventbus.Publish(t.bus, eventbus.QuestPreNotified, ev)
	}
	return nil
}

func (t *Tracker) readyPhase(ctx context.Context, s alert.Settings, rep *CycleReport) error {
	items, now, err := t.load(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	plan := alert.SelectReady(items, s, now)

	for _, it := range plan.Consume {
		if err := t.store.MarkLastStatus(ctx, it.Task.ID, quest.LastStatusOf(it.Status.State)); err != nil {
			t.log.Error("record initial status failed", logx.Int64("task_id", it.Task.ID), logx.Err(err))
			continue
		}
		rep.Consumed++
		metrics.DecisionsTotal.WithLabelValues(alert.ConsumeInitial.String()).Inc()
	}

	for i, it := range plan.Notify {
		if i > 0 && !t.pace(ctx, false) {
			return nil
		}
		if ok := t.notify(ctx, it, now); !ok {
			rep.Failed++
			if !t.pace(ctx, true) {
				return nil
			}
			continue
		}
		rep.Notified++
		metrics.DecisionsTotal.WithLabelValues(alert.Notify.String()).Inc()
		eventbus.Publish(t.bus, eventbus.QuestReady, eventOf(it))
	}
	return nil
}

// notify delivers a ready notification and records it. It reports false
// when delivery failed.
func (t *Tracker) notify(ctx context.Context, it quest.Evaluated, now gametime.Timestamp) bool {
	h, err := t.notif.Deliver(ctx, payloadOf(it))
	if err != nil {
		t.log.Warn("notification failed", logx.Int64("task_id", it.Task.ID), logx.String("task", it.Task.Name), logx.Err(err))
		return false
	}
	if err := t.store.MarkNotified(ctx, it.Task.ID, string(h), now); err != nil {
		t.log.Error("mark notified failed", logx.Int64("task_id", it.Task.ID), logx.String("handle", string(h)), logx.Err(err))
	}
	return true
}

func (t *Tracker) stalePhase(ctx context.Context, s alert.Settings, rep *CycleReport) error {
	items, now, err := t.load(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for i, it := range alert.SelectStale(items, s, now) {
		if i > 0 && !t.pace(ctx, false) {
			return nil
		}
		// Re-read: a reaction may have landed since the listing.
		cur, err := t.loadOne(ctx, it.Task.ID)
		if err != nil {
			t.log.Warn("stale refresh lookup failed", logx.Int64("task_id", it.Task.ID), logx.Err(err))
			continue
		}
		if !alert.IsStale(cur, s.StaleMinutes, t.clock.Now()) {
			continue
		}
		if old := notifier.Handle(cur.Record.NotificationHandle); old != "" {
			if err := t.notif.Retract(ctx, old); err != nil {
				t.log.Debug("retract stale message failed", logx.String("handle", string(old)), logx.Err(err))
			}
		}
		if ok := t.notify(ctx, cur, t.clock.Now()); !ok {
			rep.Failed++
			if !t.pace(ctx, true) {
				return nil
			}
			continue
		}
		rep.Refreshed++
		metrics.DecisionsTotal.WithLabelValues("refresh").Inc()
		eventbus.Publish(t.bus, eventbus.QuestRefreshed, eventOf(cur))
	}
	return nil
}
