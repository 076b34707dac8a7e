// Package scheduler turns cron specs, intervals and one-shot times into task
// engine submissions. It never runs jobs itself; every trigger becomes an
// engine.Task so overlap, retry and timeout rules live in one place.
package scheduler
