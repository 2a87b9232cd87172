package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic controller-runtime metrics (reconcile counts,
// durations, work queue depth, etc.) with operator-specific state that the
// framework cannot know about.
var (
	instanceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "extres_operator_instance_info",
			Help: "Info-style metric for CacheInstance discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	lateInitPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "extres_operator_late_init_pending",
			Help: "Whether a resource is waiting for provider-assigned defaults (1) or not (0).",
		},
		[]string{"name", "namespace"},
	)

	mergeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extres_operator_merge_total",
			Help: "Total number of late-initialization merge passes by outcome.",
		},
		[]string{"resource_type", "outcome"},
	)

	mergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extres_operator_merge_duration_seconds",
			Help:    "Latency of one late-initialization merge pass in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource_type"},
	)

	providerRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extres_operator_provider_request_total",
			Help: "Total number of requests to the external provider.",
		},
		[]string{"operation", "result"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extres_operator_provider_request_duration_seconds",
			Help:    "Latency of external provider requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		instanceInfo,
		lateInitPending,
		mergeTotal,
		mergeDuration,
		providerRequestTotal,
		providerRequestDuration,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		instanceInfo,
		lateInitPending,
		mergeTotal,
		mergeDuration,
		providerRequestTotal,
		providerRequestDuration,
	}
}
