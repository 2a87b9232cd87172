package monitoring

import (
	"errors"
	"time"

	"github.com/numtide/external-resource-operator/pkg/lateinit"
)

// Merge outcome label values.
const (
	OutcomeChanged         = "changed"
	OutcomeUnchanged       = "unchanged"
	OutcomeNotYetAvailable = "not_yet_available"
	OutcomeFailed          = "failed"
)

// SetInstanceInfo sets the info-style gauge for a CacheInstance.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetInstanceInfo(name, namespace, phase string) {
	instanceInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	instanceInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// SetLateInitPending sets the pending gauge for a resource.
func SetLateInitPending(name, namespace string, pending bool) {
	v := 0.0
	if pending {
		v = 1.0
	}
	lateInitPending.WithLabelValues(name, namespace).Set(v)
}

// RecordMergeResult records one merge pass's outcome and duration.
func RecordMergeResult(resourceType string, res lateinit.MergeResult, duration time.Duration) {
	outcome := OutcomeUnchanged
	switch {
	case errors.Is(res.Err, lateinit.ErrNotYetAvailable):
		outcome = OutcomeNotYetAvailable
	case res.Err != nil:
		outcome = OutcomeFailed
	case res.Changed:
		outcome = OutcomeChanged
	}
	mergeTotal.WithLabelValues(resourceType, outcome).Inc()
	mergeDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// RecordProviderRequest records an external provider request's result and duration.
func RecordProviderRequest(operation string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	providerRequestTotal.WithLabelValues(operation, result).Inc()
	providerRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
