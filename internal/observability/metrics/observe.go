package metrics

import (
	"strings"
	"time"

	"questbot/internal/task/engine"
)

// ObserveJob is an engine.Observer recording job outcomes and durations.
// Per-task one-shot jobs ("snooze:42") are folded into their prefix.
func ObserveJob(ev engine.TaskEvent, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	job, _, _ := strings.Cut(ev.Name, ":")
	JobsTotal.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(ev.Duration.Seconds())
}

// ObserveDelivery records one notifier send attempt series.
func ObserveDelivery(sink, kind string, seconds float64, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	DeliveriesTotal.WithLabelValues(sink, kind, outcome).Inc()
	DeliveryDuration.WithLabelValues(sink).Observe(seconds)
}

// ObserveRequest records one handled chat command or callback.
func ObserveRequest(route, outcome string, took time.Duration) {
	RequestsTotal.WithLabelValues(route, outcome).Inc()
	RequestDuration.WithLabelValues(route).Observe(took.Seconds())
}
