// Package metrics exposes questbot's Prometheus collectors and the HTTP
// server that serves them.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "questbot"

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome (run, paused, error).",
		},
		[]string{"outcome"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one poll cycle including deliveries.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	TasksByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks per computed state at the last cycle.",
		},
		[]string{"state"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Notification decisions taken by the poller (pre, ready, consume_initial, stale).",
		},
		[]string{"decision"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notifier deliveries per sink, kind and outcome.",
		},
		[]string{"sink", "kind", "outcome"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Notifier send latency per sink, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	ResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Tasks cleared by reset jobs per policy.",
		},
		[]string{"kind"},
	)

	ReactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_total",
			Help:      "User reactions handled (done, skip, snooze).",
		},
		[]string{"action"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Chat commands and callbacks handled, by route and outcome (ok, rejected, error).",
		},
		[]string{"route", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Chat command and callback handling time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Scheduled job runs by job name and outcome.",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		CyclesTotal,
		CycleDuration,
		TasksByState,
		DecisionsTotal,
		DeliveriesTotal,
		DeliveryDuration,
		ResetsTotal,
		ReactionsTotal,
		RequestsTotal,
		RequestDuration,
		JobsTotal,
		JobDuration,
	}
}

// Register adds the questbot collectors plus Go and process collectors to
// reg. Collectors that are already registered are skipped, so Register may
// be called more than once with the same registry.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := append(all(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
