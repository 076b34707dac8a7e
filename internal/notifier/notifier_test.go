package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"questbot/internal/eventbus"
	"questbot/internal/quest"
	logx "questbot/pkg/logx"
)

type fakeSink struct {
	name string

	mu      sync.Mutex
	fails   int // remaining failures before success
	err     error
	sent    []Card
	deleted []Handle
	seq     int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, c Card) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return "", f.err
	}
	f.seq++
	f.sent = append(f.sent, c)
	return Handle(fmt.Sprintf("%s:%d", f.name, f.seq)), nil
}

func (f *fakeSink) Delete(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, h)
	return nil
}

func (f *fakeSink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestDeliverRetriesPrimaryAndMirrors(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "tg", fails: 2, err: errors.New("flaky")}
	mirror := &fakeSink{name: "dc"}
	s := New(testConfig(), logx.Nop(), nil, nil, primary, mirror)

	h, err := s.Deliver(context.Background(), Payload{TaskID: 7, Name: "Dragon Altar", Kind: quest.KindCooldown, State: quest.Available, Message: "Ready", Buttons: true})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if h != "tg:1|dc:1" {
		t.Fatalf("handle %q", h)
	}
	if h.Primary() != "tg:1" || h.Sink() != "tg" {
		t.Fatalf("primary %q sink %q", h.Primary(), h.Sink())
	}
	if got := primary.sent[0]; got.TaskID != 7 || len(got.Actions) != 3 {
		t.Fatalf("card %+v", got)
	}
	if len(s.Snapshot()) != 1 {
		t.Fatalf("history not recorded")
	}
}

func TestDeliverPrimaryFailureSkipsMirrors(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "tg", fails: 10, err: errors.New("down")}
	mirror := &fakeSink{name: "dc"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(testConfig(), logx.Nop(), bus, nil, primary, mirror)

	if _, err := s.Deliver(context.Background(), Payload{Name: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if primary.fails != 7 {
		t.Fatalf("expected 3 attempts, %d failures left", primary.fails)
	}
	if mirror.sentCount() != 0 {
		t.Fatalf("mirror should not receive a card")
	}
	ev := <-events
	if ev.Type != eventbus.NotifierFailed {
		t.Fatalf("event %q", ev.Type)
	}
}

func TestDeliverNoTargetIsNotRetried(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "tg", fails: 10, err: ErrNoTarget}
	s := New(testConfig(), logx.Nop(), nil, nil, primary)
	if _, err := s.Deliver(context.Background(), Payload{Name: "x"}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
	if primary.fails != 9 {
		t.Fatalf("expected a single attempt, %d failures left", primary.fails)
	}
}

func TestDeliverWithoutSinkOrDisabled(t *testing.T) {
	t.Parallel()

	if _, err := New(testConfig(), logx.Nop(), nil, nil).Deliver(context.Background(), Payload{}); !errors.Is(err, ErrNoSink) {
		t.Fatalf("expected ErrNoSink, got %v", err)
	}
	cfg := testConfig()
	cfg.Enabled = false
	if _, err := New(cfg, logx.Nop(), nil, nil, &fakeSink{name: "tg"}).Deliver(context.Background(), Payload{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestRetractRoutesByPrefix(t *testing.T) {
	t.Parallel()

	tg := &fakeSink{name: "tg"}
	dc := &fakeSink{name: "dc"}
	s := New(testConfig(), logx.Nop(), nil, nil, tg, dc)

	err := s.Retract(context.Background(), "tg:1:0:5|dc:99|xx:1")
	if !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle for xx part, got %v", err)
	}
	if len(tg.deleted) != 1 || tg.deleted[0] != "tg:1:0:5" {
		t.Fatalf("tg deleted %v", tg.deleted)
	}
	if len(dc.deleted) != 1 || dc.deleted[0] != "dc:99" {
		t.Fatalf("dc deleted %v", dc.deleted)
	}
	if err := s.Retract(context.Background(), ""); err != nil {
		t.Fatalf("empty handle: %v", err)
	}
}

func TestAnnounceDedupAndDrain(t *testing.T) {
	t.Parallel()

	tg := &fakeSink{name: "tg"}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := New(testConfig(), logx.Nop(), bus, nil, tg)

	ctx := context.Background()
	if err := s.Announce(ctx, Announcement{Text: "hi"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before Start: %v", err)
	}
	s.Start(ctx)

	a := Announcement{Target: quest.Target{ChatID: 1}, Text: ResetText(quest.KindDaily, 3)}
	for i := 0; i < 3; i++ {
		if err := s.Announce(ctx, a); err != nil {
			t.Fatalf("Announce: %v", err)
		}
	}
	if err := s.Announce(ctx, Announcement{Target: quest.Target{ChatID: 2}, Text: a.Text}); err != nil {
		t.Fatalf("Announce other target: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	if n := tg.sentCount(); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if got := tg.sent[0].Text(); got != "🔄 Daily reset: 3 tasks are available again" {
		t.Fatalf("text %q", got)
	}

	deduped := 0
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.NotifierDeduped {
				deduped++
			}
			continue
		default:
		}
		break
	}
	if deduped != 2 {
		t.Fatalf("expected 2 deduped events, got %d", deduped)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter range", d)
	}
}

func TestHandleParts(t *testing.T) {
	t.Parallel()

	h := Handle("tg:1:0:2|dc:3")
	parts := h.Parts()
	if len(parts) != 2 || parts[1].Sink() != "dc" {
		t.Fatalf("parts %v", parts)
	}
	if Handle("").Parts() != nil || Handle("nosink").Sink() != "" {
		t.Fatalf("degenerate handles")
	}
	if !strings.HasPrefix(string(TelegramHandle(mustRef(t, "tg:-100:4:9"))), "tg:-100:4:9") {
		t.Fatalf("telegram handle round trip")
	}
	if _, err := ParseTelegramHandle("tg:x:0:1"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}
