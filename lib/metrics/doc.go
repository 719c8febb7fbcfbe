// Package metrics defines the sink the map store reports its per-map counters to.
//
// For every map the store reports items attempted and succeeded per operation
// kind (load, store, delete), the number of calls and failed calls, and the
// number of keys that could not be encoded.
//
// Implementations:
//   - VMSink: VictoriaMetrics metric set, exposed in the Prometheus text format
//   - RegistrySink: rcrowley/go-metrics registry, for in-process reporting
//   - Discard: drops everything
package metrics
