package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"questbot/internal/task/engine"
	logx "questbot/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError logs a failed submission at most once per
// enqueueWarnEvery for each schedule. Overlap skips are routine and go to
// debug.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	s.warnMu.Lock()
	w, ok := s.warn[name]
	if !ok {
		w = &rate.Sometimes{Interval: enqueueWarnEvery}
		s.warn[name] = w
	}
	s.warnMu.Unlock()

	w.Do(func() {
		s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
	})
}
