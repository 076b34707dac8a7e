package engine

import (
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
	ErrCircuitOpen = errors.New("task skipped: circuit breaker open")
)

type permanent struct{ error }

func (p permanent) Unwrap() error { return p.error }

// NoRetry marks err as permanent so the engine gives up after this attempt.
// The task's recorded error is err itself.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

func IsNoRetry(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// RetryAfterError carries the delay a remote asked for, such as a Telegram
// flood wait. It replaces the computed backoff, capped by RetryMaxDelay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type delayed struct {
	error
	after time.Duration
}

func (d delayed) Unwrap() error             { return d.error }
func (d delayed) RetryAfter() time.Duration { return d.after }

func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return delayed{error: err, after: max(after, 0)}
}
