package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueuedCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_enqueued_total", Help: "Notification jobs enqueued"})
	DeliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_delivered_total", Help: "Notifications delivered successfully"})
	RetriedCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_retried_total", Help: "Delivery attempts that failed and were rescheduled"})
	ExhaustedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_exhausted_total", Help: "Jobs that ran out of attempts and failed"})
	CancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_cancelled_total", Help: "Jobs cancelled by operators"})
	CleanupCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_cleaned_total", Help: "Terminal jobs removed by the cleanup sweep"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_rate_limit_rejects_total", Help: "Enqueue requests rejected by the per-store rate limiter"})
	PendingGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "notifications_pending", Help: "Jobs waiting for a processing pass"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "notifications_inflight", Help: "Jobs currently being delivered"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueuedCounter,
			DeliveredCounter,
			RetriedCounter,
			ExhaustedCounter,
			CancelledCounter,
			CleanupCounter,
			RateLimitRejects,
			PendingGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
