package state

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMempoolAdmitted    *prometheus.CounterVec
	prometheusMempoolRejected    *prometheus.CounterVec
	prometheusMempoolEvicted     prometheus.Counter
	prometheusMempoolExpired     prometheus.Counter
	prometheusMempoolSize        prometheus.Gauge
	prometheusMempoolBytes       prometheus.Gauge
	prometheusBlocksAccepted     prometheus.Counter
	prometheusBlocksRejected     *prometheus.CounterVec
	prometheusBlockHeight        prometheus.Gauge
	prometheusBlockTransactions  prometheus.Histogram
	prometheusMiningDuration     prometheus.Histogram
	prometheusMiningPreempted    prometheus.Counter
	prometheusDifficultyRetarget prometheus.Counter
	prometheusTreasuryTotal      prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMempoolAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "admitted",
			Help:      "Number of transactions admitted into the mempool by class",
		},
		[]string{"class"},
	)

	prometheusMempoolRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "rejected",
			Help:      "Number of transactions rejected by the mempool by error kind",
		},
		[]string{"kind"},
	)

	prometheusMempoolEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "evicted",
			Help:      "Number of transactions evicted to make room for better paying ones",
		},
	)

	prometheusMempoolExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "expired",
			Help:      "Number of transactions removed after the TTL",
		},
	)

	prometheusMempoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusMempoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "mempool",
			Name:      "bytes",
			Help:      "Encoded size of the transactions in the mempool",
		},
	)

	prometheusBlocksAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "blocks_accepted",
			Help:      "Number of blocks appended to the chain",
		},
	)

	prometheusBlocksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected by error kind",
		},
		[]string{"kind"},
	)

	prometheusBlockHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the latest block",
		},
	)

	prometheusBlockTransactions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "block_transactions",
			Help:      "Histogram of the number of transactions per block",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	prometheusMiningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "miner",
			Name:      "duration_seconds",
			Help:      "Histogram of the time spent solving proof of work",
			Buckets:   prometheus.DefBuckets,
		},
	)

	prometheusMiningPreempted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "miner",
			Name:      "preempted",
			Help:      "Number of mining attempts abandoned for a newer block",
		},
	)

	prometheusDifficultyRetarget = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "retargets",
			Help:      "Number of difficulty adjustments that changed the difficulty",
		},
	)

	prometheusTreasuryTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "fee",
			Name:      "treasury_total",
			Help:      "Units allocated to the treasury",
		},
	)
}
