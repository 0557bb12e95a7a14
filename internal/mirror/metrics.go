package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the queue does with jobs.
type Metrics struct {
	Enqueued     prometheus.Counter
	Delivered    prometheus.Counter
	Retries      prometheus.Counter
	Duplicates   prometheus.Counter
	Dropped      *prometheus.CounterVec
	DeadLettered prometheus.Counter
	Depth        prometheus.Gauge
}

// NewMetrics registers the queue metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "basket_mirror_jobs_enqueued_total",
			Help: "Basket mutations queued for the server basket",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "basket_mirror_jobs_delivered_total",
			Help: "Basket mutations applied to the server basket",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "basket_mirror_retries_total",
			Help: "Failed delivery attempts that were retried",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "basket_mirror_jobs_duplicate_total",
			Help: "Jobs skipped because their idempotency key was already delivered",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_mirror_jobs_dropped_total",
			Help: "Jobs discarded without delivery",
		}, []string{"reason"}),
		DeadLettered: f.NewCounter(prometheus.CounterOpts{
			Name: "basket_mirror_jobs_dead_lettered_total",
			Help: "Jobs sent to the dead-letter topic",
		}),
		Depth: f.NewGauge(prometheus.GaugeOpts{
			Name: "basket_mirror_queue_depth",
			Help: "Jobs waiting in the queue",
		}),
	}
}
