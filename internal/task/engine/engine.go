// Package engine runs tasks on a bounded worker pool with retries, overlap
// gating and a per-task circuit breaker. Triggers live in the scheduler.
package engine

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"questbot/internal/eventbus"
	rtsup "questbot/internal/runtime/supervisor"
	logx "questbot/pkg/logx"
)

// run is one Start..Stop lifetime of the worker pool.
type run struct {
	queue chan queued
	stop  chan struct{}
	sup   *rtsup.Supervisor
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	cfg Config
	cur *run
	obs Observer

	gates   sync.Map // task name -> *RunState
	breaker breaker

	hmu  sync.Mutex
	hist history

	inFlight  atomic.Int32
	dropFull  atomic.Uint64
	dropStale atomic.Uint64
	warnFull  rate.Sometimes
	warnStale rate.Sometimes
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		bus:       bus,
		cfg:       cfg.withDefaults(),
		warnFull:  rate.Sometimes{Interval: 5 * time.Second},
		warnStale: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// SetObserver installs fn, called after every task that ran.
func (s *Service) SetObserver(fn Observer) {
	s.mu.Lock()
	s.obs = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor returns the worker supervisor, nil while stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.sup
}

func (s *Service) config() (Config, *run, Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.cur, s.obs
}

// Apply swaps the config. The pool restarts when its shape changes and
// starts or stops when Enabled flips.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev, running := s.cfg, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	reshaped := prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize
	switch {
	case running && (!cfg.Enabled || reshaped):
		s.Stop(ctx)
		if cfg.Enabled {
			s.Start(ctx)
		}
	case !running && cfg.Enabled:
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.cur != nil {
		return
	}
	r := &run{
		queue: make(chan queued, s.cfg.QueueSize),
		stop:  make(chan struct{}),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.cur = r
	for i := 0; i < s.cfg.Workers; i++ {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)<<32))
		r.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			s.work(c, r, rng)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop detaches the pool at once so a following Start gets a fresh one,
// then waits for running tasks until ctx ends. Queued tasks are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return
	}
	close(r.stop)
	r.sup.Cancel()
drain:
	for {
		select {
		case q := <-r.queue:
			q.gate.release()
		default:
			break drain
		}
	}
	if err := r.sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
		return
	}
	s.log.Info("task engine stopped")
}

func (s *Service) Snapshot() Snapshot {
	cfg, r, _ := s.config()
	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.dropFull.Load(),
		DroppedStale:     s.dropStale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
	}
	snap.Dropped = snap.DroppedQueueFull + snap.DroppedStale
	if r != nil {
		snap.QueueLen, snap.QueueCap = len(r.queue), cap(r.queue)
	}
	if cfg.CircuitTripFailures > 0 {
		snap.CircuitTotal, snap.CircuitOpen = s.breaker.counts(time.Now())
	}
	s.hmu.Lock()
	snap.History = s.hist.list()
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(cfg Config, it HistoryItem) {
	s.hmu.Lock()
	s.hist.add(cfg.HistorySize, it)
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}
