package engine

import (
	"sync"
	"time"
)

type streak struct {
	fails     int
	last      time.Time
	openUntil time.Time
}

// breaker tracks failure streaks per task name.
type breaker struct {
	mu sync.Mutex
	m  map[string]*streak
}

// threshold is the streak length that opens the breaker for a task, 0 when
// the task is exempt.
func threshold(cfg Config, opt TaskOptions) int {
	if cfg.CircuitTripFailures < 0 || opt.CircuitTripFailures < 0 {
		return 0
	}
	if opt.CircuitTripFailures > 0 {
		return opt.CircuitTripFailures
	}
	return cfg.CircuitTripFailures
}

// lookup returns the live streak for name, dropping one that went quiet for
// longer than CircuitResetAfter. Callers hold b.mu.
func (b *breaker) lookup(name string, cfg Config, now time.Time) *streak {
	st := b.m[name]
	if st != nil && now.Sub(st.last) > cfg.CircuitResetAfter {
		delete(b.m, name)
		st = nil
	}
	return st
}

// openUntil reports when the breaker for name closes again, zero if closed.
func (b *breaker) openUntil(name string, cfg Config, opt TaskOptions, now time.Time) time.Time {
	if threshold(cfg, opt) == 0 {
		return time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.lookup(name, cfg, now); st != nil && now.Before(st.openUntil) {
		return st.openUntil
	}
	return time.Time{}
}

// report records one finished run. Every failure past the threshold doubles
// the cooldown.
func (b *breaker) report(name string, cfg Config, opt TaskOptions, now time.Time, err error) {
	trip := threshold(cfg, opt)
	if trip == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.lookup(name, cfg, now)
	if err == nil {
		delete(b.m, name)
		return
	}
	if st == nil {
		if b.m == nil {
			b.m = map[string]*streak{}
		}
		st = &streak{}
		b.m[name] = st
	}
	st.fails++
	st.last = now
	if st.fails < trip {
		return
	}
	d := cfg.CircuitBaseDelay
	for i := trip; i < st.fails && d < cfg.CircuitMaxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, cfg.CircuitMaxDelay))
}

// counts returns tracked streaks and how many of them are open.
func (b *breaker) counts(now time.Time) (total, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.m {
		total++
		if now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
