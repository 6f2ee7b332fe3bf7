package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and outcome class",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the local rate limiter",
	})

	RPCRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Scanner RPC queries retried after a failed attempt",
	}, []string{"query"})

	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscope",
		Subsystem: "rpc",
		Name:      "chain_head_block",
		Help:      "Chain head observed at the start of the last scan cycle",
	})

	// Scanner
	ScanCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "scanner",
		Name:      "cycles_total",
		Help:      "Total scan cycles by result",
	}, []string{"result"})

	ScanCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tokenscope",
		Subsystem: "scanner",
		Name:      "cycle_duration_seconds",
		Help:      "Scan cycle duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ChunksFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "scanner",
		Name:      "chunks_failed_total",
		Help:      "Total block chunks skipped after log query failure",
	})

	LogsDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "scanner",
		Name:      "logs_decoded_total",
		Help:      "Total factory logs by decode status",
	}, []string{"status"})

	CursorBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscope",
		Subsystem: "scanner",
		Name:      "cursor_block",
		Help:      "Last processed block height",
	})

	DeployerResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Deployer resolutions by source",
	}, []string{"source"})

	// Batcher
	TokensPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "batcher",
		Name:      "tokens_total",
		Help:      "Tokens handed to storage by outcome",
	}, []string{"result"})

	BatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "batcher",
		Name:      "batch_failures_total",
		Help:      "Bulk upserts that fell back to per-token writes",
	})

	BatchDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscope",
		Subsystem: "batcher",
		Name:      "delay_seconds",
		Help:      "Current inter-batch delay",
	})

	// Pool discovery
	PoolProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "pools",
		Name:      "probes_total",
		Help:      "Pool factory probes by result",
	}, []string{"result"})

	TokensPoolChecked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Subsystem: "pools",
		Name:      "tokens_checked_total",
		Help:      "Tokens marked after pool discovery",
	}, []string{"has_pool"})
)
