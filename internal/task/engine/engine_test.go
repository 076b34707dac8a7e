package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"questbot/internal/eventbus"
	logx "questbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v want ErrDisabled", err)
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	slow := Task{
		Name: "cycle",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started

	again := slow
	again.Run = func(context.Context) error { return nil }
	if err := s.Enqueue(again); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err=%v want ErrOverlapSkip", err)
	}
	close(release)

	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if err := s.Enqueue(again); err != nil {
		t.Fatalf("enqueue after completion: %v", err)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	var calls atomic.Int32
	var observed atomic.Int32
	s.SetObserver(func(ev TaskEvent, err error) {
		if err == nil && ev.Attempts == 3 {
			observed.Store(1)
		}
	})
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return observed.Load() == 1 })
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls=%d want 3", got)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1", got)
	}
	if h := s.Snapshot().History[0]; h.Error != "bad input" {
		t.Fatalf("history error=%q", h.Error)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	if err := s.Enqueue(Task{
		Name: "boom",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(context.Context) error { panic("kaboom") },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != "panic: kaboom" {
		t.Fatalf("history error=%q", h.Error)
	}
}

func TestCircuitOpensAfterTrip(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, CircuitTripFailures: 2, CircuitBaseDelay: time.Hour})

	fail := Task{
		Name: "downstream",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(context.Context) error { return errors.New("down") },
	}
	for i := 1; i <= 2; i++ {
		if err := s.Enqueue(fail); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		n := i
		waitFor(t, func() bool { return len(s.Snapshot().History) == n })
	}
	if err := s.Enqueue(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v want ErrCircuitOpen", err)
	}
	if snap := s.Snapshot(); snap.CircuitOpen != 1 {
		t.Fatalf("CircuitOpen=%d want 1", snap.CircuitOpen)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	tests := []struct {
		retry  int
		lo, hi time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{2, 160 * time.Millisecond, 240 * time.Millisecond},
		{10, 0, time.Second},
	}
	for _, tt := range tests {
		tt := tt
		for i := 0; i < 20; i++ {
			got := backoffDelay(opt, tt.retry, newTestRand(int64(i)))
			if got < tt.lo || got > tt.hi {
				t.Fatalf("retry %d: delay %s outside [%s, %s]", tt.retry, got, tt.lo, tt.hi)
			}
		}
	}

	hinted := RetryAfter(errors.New("429"), 5*time.Second)
	if got := backoffDelayWithHint(opt, 1, hinted, nil); got != time.Second {
		t.Fatalf("hint not capped: %s", got)
	}
}

func newTestRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func TestHistoryRingKeepsNewest(t *testing.T) {
	t.Parallel()
	var h history
	for i := 0; i < 5; i++ {
		h.add(3, HistoryItem{Name: string(rune('a' + i))})
	}
	got := h.list()
	if len(got) != 3 || got[0].Name != "c" || got[2].Name != "e" {
		t.Fatalf("ring = %+v", got)
	}

	h.add(4, HistoryItem{Name: "f"})
	got = h.list()
	if len(got) != 4 || got[0].Name != "c" || got[3].Name != "f" {
		t.Fatalf("grown ring = %+v", got)
	}
	h.add(2, HistoryItem{Name: "g"})
	if got = h.list(); len(got) != 2 || got[0].Name != "f" || got[1].Name != "g" {
		t.Fatalf("shrunk ring = %+v", got)
	}
}

func TestApplyRestartsOnReshape(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})
	first := s.Supervisor()
	if first == nil {
		t.Fatalf("no supervisor after start")
	}

	s.Apply(context.Background(), Config{Enabled: true, Workers: 2, QueueSize: 8})
	if snap := s.Snapshot(); snap.Workers != 2 || snap.QueueCap != 8 {
		t.Fatalf("snapshot after reshape = %+v", snap)
	}
	if s.Supervisor() == first {
		t.Fatalf("pool was not restarted")
	}

	s.Apply(context.Background(), Config{Enabled: false})
	if s.Supervisor() != nil {
		t.Fatalf("pool still running after disable")
	}
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v want ErrDisabled", err)
	}
}
