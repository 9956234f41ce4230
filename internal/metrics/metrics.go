package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track deployment and operation volume
var (
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_deployments_total",
			Help: "Total number of token deployments by outcome and provisioning strategy",
		},
		[]string{"outcome", "strategy"},
	)

	FeeCollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_fee_collections_total",
			Help: "Total number of deployment fee transfers by outcome",
		},
		[]string{"outcome"},
	)

	TokenOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_token_operations_total",
			Help: "Total number of mint, burn and transfer operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_sessions_total",
			Help: "Total number of replica sessions built by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Performance metrics - Track pipeline latency
var (
	DeployStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "launchpad_deploy_stage_duration_seconds",
			Help:    "Time spent in each deployment stage",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ModuleFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "launchpad_module_fetch_duration_seconds",
		Help:    "Time taken to download the contract module",
		Buckets: prometheus.DefBuckets,
	})
)

// Cache metrics - Track module cache effectiveness
var (
	ModuleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_module_cache_total",
			Help: "Module cache lookups by result (hit, miss, stale)",
		},
		[]string{"result"},
	)

	ModuleSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpad_module_size_bytes",
		Help: "Size of the last verified contract module",
	})
)

// Error metrics - Track failures
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_errors_total",
			Help: "Total number of errors by kind",
		},
		[]string{"kind"},
	)
)

// Outcome labels shared by the counters above
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeBypassed = "bypassed"
	OutcomeSkipped  = "skipped"
)
