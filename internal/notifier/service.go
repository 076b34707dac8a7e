package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"questbot/internal/eventbus"
	"questbot/internal/observability/metrics"
	rtsup "questbot/internal/runtime/supervisor"
	"questbot/internal/storage"
	logx "questbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	id       string
	card     Card
	dedupKey string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service delivers cards to its sinks. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		bus:   bus,
		store: store,
		sinks: append([]Sink(nil), sinks...),
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// SetSinks replaces the sinks. The first one is primary.
func (s *Service) SetSinks(sinks ...Sink) {
	s.mu.Lock()
	s.sinks = append([]Sink(nil), sinks...)
	s.mu.Unlock()
}

// SinkNames lists configured sinks, primary first.
func (s *Service) SinkNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Supervisor returns the announcement pipeline supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps limits and retry policy. Worker and queue sizes take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the announcement workers. Deliver works without Start.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// notifier failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	pch := s.persistCh
	st := s.store
	s.mu.Unlock()

	// Loops return when their channel closes on Stop; anything else is
	// unexpected and restarts them.
	exit := func(c context.Context, what string) error {
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping || c.Err() != nil {
			return nil
		}
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return exit(c, "persist loop")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return exit(c, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	pch := s.persistCh
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Deliver sends the ready card for p and returns the delivery handle.
func (s *Service) Deliver(ctx context.Context, p Payload) (Handle, error) {
	return s.dispatch(ctx, RenderReady(p))
}

// PreNotify sends a pre-notification card.
func (s *Service) PreNotify(ctx context.Context, n PreNotice) (Handle, error) {
	return s.dispatch(ctx, RenderPre(n))
}

// Retract deletes every message behind h. All parts are attempted; the
// errors are joined.
func (s *Service) Retract(ctx context.Context, h Handle) error {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	var errs []error
	for _, part := range h.Parts() {
		var sink Sink
		for _, sk := range sinks {
			if sk.Name() == part.Sink() {
				sink = sk
				break
			}
		}
		if sink == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownHandle, part))
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, s.sendTimeout())
		if err := sink.Delete(cctx, part); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// Announce queues a broadcast. Identical text to the same target inside the
// dedup window is dropped silently.
func (s *Service) Announce(ctx context.Context, a Announcement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	max := s.cfg.DedupMaxEntries
	persist := s.cfg.PersistDedup
	st := s.store
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	card := RenderAnnouncement(a)
	key := dedupKey(a)
	ev := NotificationEvent{ID: uuid.NewString(), Kind: card.Kind, ChatID: a.Target.ChatID, ThreadID: a.Target.ThreadID, Key: key, At: time.Now()}

	if window > 0 && !s.dedupAllow(ctx, key, window, max, persist, st, pch) {
		eventbus.Publish(s.bus, eventbus.NotifierDeduped, ev)
		return nil
	}

	select {
	case q <- job{id: ev.ID, card: card, dedupKey: key}:
		eventbus.Publish(s.bus, eventbus.NotifierQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		eventbus.Publish(s.bus, eventbus.NotifierDropped, ev)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(c Card, h Handle) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Kind: c.Kind, Text: c.Text(), Handle: h})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) sendTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SendTimeout
}

// dispatch sends c to the primary sink with retries, then once to each
// mirror. A primary failure is returned and mirrors are skipped.
func (s *Service) dispatch(ctx context.Context, c Card) (Handle, error) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	sinks := append([]Sink(nil), s.sinks...)
	cfg := s.cfg
	lim := s.limiter
	log := s.log
	s.mu.Unlock()

	if !enabled {
		return "", ErrDisabled
	}
	if len(sinks) == 0 {
		return "", ErrNoSink
	}

	ev := NotificationEvent{Sink: sinks[0].Name(), Kind: c.Kind, ChatID: c.Target.ChatID, ThreadID: c.Target.ThreadID, TaskID: c.TaskID}
	h, err := s.sendWithRetry(ctx, cfg, lim, sinks[0], c, 1+cfg.RetryMax)
	if err != nil {
		ev.At, ev.Error = time.Now(), err.Error()
		eventbus.Publish(s.bus, eventbus.NotifierFailed, ev)
		return "", err
	}

	handles := []Handle{h}
	for _, m := range sinks[1:] {
		mh, err := s.sendWithRetry(ctx, cfg, lim, m, c, 1)
		if err != nil {
			log.Warn("mirror delivery failed", logx.String("sink", m.Name()), logx.String("kind", c.Kind), logx.Err(err))
			continue
		}
		handles = append(handles, mh)
	}
	h = joinHandles(handles)

	s.appendHistory(c, h)
	ev.At, ev.Handle = time.Now(), string(h)
	eventbus.Publish(s.bus, eventbus.NotifierSent, ev)
	return h, nil
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sink Sink, c Card, attempts int) (Handle, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		h, err := sink.Send(callCtx, c)
		cancel()
		if err == nil {
			metrics.ObserveDelivery(sink.Name(), c.Kind, time.Since(start).Seconds(), nil)
			return h, nil
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("sink", sink.Name()),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
		)
		if attempt >= attempts || errors.Is(err, ErrNoTarget) {
			break
		}
		if !sleepCtx(ctx, retryDelay(cfg, attempt)) {
			lastErr = ctx.Err()
			break
		}
	}
	metrics.ObserveDelivery(sink.Name(), c.Kind, time.Since(start).Seconds(), lastErr)
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			if _, err := s.dispatch(ctx, j.card); err != nil {
				s.log.Warn("announcement failed", logx.String("id", j.id), logx.String("key", j.dedupKey), logx.Err(err))
			}
		}
	}
}

func dedupKey(a Announcement) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d:%d|", a.Target.ChatID, a.Target.ThreadID)
	_, _ = h.Write([]byte(a.Text))
	return fmt.Sprintf("announce:%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check (best-effort) for cross-restart dedup.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Over the cap: evict the earliest expiries.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
