package mid

import (
	"context"
	"net/http"
	"sync"

	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusRequests *prometheus.CounterVec
	prometheusErrors   *prometheus.CounterVec
	prometheusPanics   prometheus.Counter
	prometheusDuration *prometheus.HistogramVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(func() {
		prometheusRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "requests",
				Help:      "Number of requests handled by method",
			},
			[]string{"method"},
		)

		prometheusErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "errors",
				Help:      "Number of requests that returned an error by method",
			},
			[]string{"method"},
		)

		prometheusPanics = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "panics",
				Help:      "Number of panics recovered in handlers",
			},
		)

		prometheusDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "duration_seconds",
				Help:      "Histogram of request latency by method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		)
	})
}

// Metrics updates program counters.
func Metrics() web.Middleware {
	initPrometheusMetrics()

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			timer := prometheus.NewTimer(prometheusDuration.WithLabelValues(r.Method))
			defer timer.ObserveDuration()

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request and errors counters.
			prometheusRequests.WithLabelValues(r.Method).Inc()
			if err != nil {
				prometheusErrors.WithLabelValues(r.Method).Inc()
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
