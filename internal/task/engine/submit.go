package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"questbot/internal/eventbus"
	logx "questbot/pkg/logx"
)

type queued struct {
	task    Task
	opt     TaskOptions
	timeout time.Duration
	at      time.Time
	gate    *RunState // held until the task ends, nil when not gated
}

// Enqueue queues t without blocking. A full queue drops it with
// ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	return s.submit(context.Background(), t, false)
}

// Submit waits for queue space until ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.submit(ctx, t, true)
}

func (s *Service) submit(ctx context.Context, t Task, wait bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	cfg, r, _ := s.config()
	if !cfg.Enabled {
		return ErrDisabled
	}
	if r == nil {
		return ErrStopped
	}

	now := time.Now()
	q := queued{task: t, opt: t.Opt.resolve(cfg), timeout: t.Timeout, at: now}
	if q.timeout <= 0 {
		q.timeout = cfg.DefaultTimeout
	}

	if until := s.breaker.openUntil(t.Name, cfg, q.opt, now); !until.IsZero() {
		s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "circuit_open"})
		s.record(cfg, HistoryItem{ID: t.ID, Name: t.Name, Started: now, Error: "circuit_open"})
		s.log.Debug("task skipped: circuit open", logx.String("task", t.Name), logx.Time("until", until))
		return ErrCircuitOpen
	}

	if q.opt.Overlap == OverlapSkipIfRunning {
		g := t.State
		if g == nil {
			v, _ := s.gates.LoadOrStore(t.Name, &RunState{})
			g = v.(*RunState)
		}
		if !g.acquire() {
			s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		q.gate = g
	}

	select {
	case r.queue <- q:
		return nil
	case <-r.stop:
		q.gate.release()
		return ErrStopping
	default:
	}
	if !wait {
		q.gate.release()
		s.dropped(&s.dropFull, &s.warnFull, "queue_full", q, 0, cap(r.queue))
		return ErrQueueFull
	}
	select {
	case r.queue <- q:
		return nil
	case <-r.stop:
		q.gate.release()
		return ErrStopping
	case <-ctx.Done():
		q.gate.release()
		return ctx.Err()
	}
}

// dropped accounts for a task that never ran. Warnings are throttled by w.
func (s *Service) dropped(counter *atomic.Uint64, w *rate.Sometimes, reason string, q queued, delay time.Duration, capacity int) {
	n := counter.Add(1)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: q.task.ID, Name: q.task.Name, Started: time.Now(), QueueDelay: delay, Error: reason})
	w.Do(func() {
		s.log.Warn("task dropped",
			logx.String("reason", reason),
			logx.String("task", q.task.Name),
			logx.Duration("queue_delay", delay),
			logx.Int("queue_cap", capacity),
			logx.Uint64("dropped", n),
		)
	})
}
