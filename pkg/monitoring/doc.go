// Package monitoring provides Prometheus metrics and recording helpers for
// the External Resource Operator. It exposes domain-specific gauges and
// counters that complement the generic controller-runtime metrics already
// registered by the framework.
//
// All metrics follow the naming convention extres_operator_<metric>_<unit>
// and are registered against controller-runtime's default Prometheus registry
// on import.
//
// Usage in controllers:
//
//	monitoring.SetInstanceInfo(inst.Name, inst.Namespace, string(inst.Status.Phase))
//	monitoring.RecordMergeResult("CacheInstance", res, elapsed)
//	monitoring.RecordProviderRequest("read", err, elapsed)
package monitoring
