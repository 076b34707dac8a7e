package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"questbot/internal/eventbus"
	logx "questbot/pkg/logx"
)

func (s *Service) work(ctx context.Context, r *run, rng *rand.Rand) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case q := <-r.queue:
			s.inFlight.Add(1)
			s.execute(ctx, r, q, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, r *run, q queued, rng *rand.Rand) {
	defer q.gate.release()
	cfg, _, obs := s.config()
	start := time.Now()
	delay := max(start.Sub(q.at), 0)
	t := q.task

	if cfg.MaxQueueDelay > 0 && delay > cfg.MaxQueueDelay {
		s.dropped(&s.dropStale, &s.warnStale, "stale_queue_delay", q, delay, cap(r.queue))
		s.record(cfg, HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: delay, Error: "stale_queue_delay"})
		return
	}

	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: delay}
	s.publish(eventbus.TaskStarted, ev)

	var err error
	for ev.Attempts = 1; ; ev.Attempts++ {
		err = s.attempt(ctx, q)
		if err == nil || ev.Attempts > q.opt.RetryMax {
			break
		}
		var p permanent
		if errors.As(err, &p) {
			err = p.error
			break
		}
		wait := backoffDelayWithHint(q.opt, ev.Attempts, err, rng)
		s.log.Debug("task retry scheduled", logx.String("task", t.Name), logx.Int("attempt", ev.Attempts+1), logx.Duration("delay", wait), logx.Err(err))
		if !sleep(ctx, r.stop, wait) {
			if err = ctx.Err(); err == nil {
				err = ErrStopping
			}
			break
		}
	}

	ev.Duration = time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: delay, Duration: ev.Duration}
	fields := []logx.Field{logx.String("task", t.Name), logx.Duration("queue_delay", delay), logx.Duration("dur", ev.Duration), logx.Int("attempts", ev.Attempts)}
	switch {
	case err != nil:
		item.Error, ev.Error = err.Error(), err.Error()
		s.log.Warn("task failed", append(fields, logx.Err(err))...)
		s.publish(eventbus.TaskFailed, ev)
	case ev.Duration >= 750*time.Millisecond:
		s.log.Info("task completed", fields...)
		s.publish(eventbus.TaskFinished, ev)
	default:
		s.log.Debug("task completed", fields...)
		s.publish(eventbus.TaskFinished, ev)
	}

	s.breaker.report(t.Name, cfg, q.opt, time.Now(), err)
	s.record(cfg, item)
	if obs != nil {
		obs(ev, err)
	}
}

// sleep waits d and reports false when interrupted.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-tm.C:
		return true
	}
}

// attempt runs the task once under its timeout. A panic becomes the error.
func (s *Service) attempt(ctx context.Context, q queued) (err error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
			s.log.Error("task panic", logx.String("task", q.task.Name), logx.Any("panic", v), logx.Stack(string(debug.Stack())))
		}
	}()
	return q.task.Run(ctx)
}

// backoffDelayWithHint prefers a RetryAfterError delay over the computed
// backoff.
func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if !errors.As(err, &ra) {
		return backoffDelay(opt, retry, rng)
	}
	ceil := opt.maxDelay()
	return min(jitter(min(ra.RetryAfter(), ceil), opt.RetryJitter, rng), ceil)
}

// backoffDelay doubles RetryBase per retry, capped and jittered.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	ceil := opt.maxDelay()
	d := opt.RetryBase
	if d <= 0 {
		d = defaultRetryBase
	}
	for i := 1; i < retry && d < ceil; i++ {
		d *= 2
	}
	return min(jitter(min(d, ceil), opt.RetryJitter, rng), ceil)
}

func (o TaskOptions) maxDelay() time.Duration {
	if o.RetryMaxDelay <= 0 {
		return defaultRetryMaxDelay
	}
	return o.RetryMaxDelay
}

func jitter(d time.Duration, frac float64, rng *rand.Rand) time.Duration {
	if d <= 0 || rng == nil {
		return d
	}
	if frac <= 0 {
		frac = defaultRetryJitter
	}
	f := 1 + (rng.Float64()*2-1)*frac
	return max(time.Duration(float64(d)*f), 0)
}
