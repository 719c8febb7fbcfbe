package metrics

import (
	"fmt"
	"io"

	vm "github.com/VictoriaMetrics/metrics"
)

// VMSink records the counters in a VictoriaMetrics metric set, which can be
// exposed in the Prometheus text format:
//
//	mapstore_items_attempted_total{map="users",op="store"}
//	mapstore_items_succeeded_total{map="users",op="store"}
//	mapstore_calls_total{map="users",op="store",outcome="ok|failed"}
//	mapstore_bad_keys_total{map="users"}
type VMSink struct {
	set *vm.Set
}

// NewVMSink creates a sink with its own metric set.
func NewVMSink() *VMSink {
	return &VMSink{set: vm.NewSet()}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see metrics.ISink)
// --------------------------------------------------------------------------

func (s *VMSink) Record(mapName string, op Op, attempted, succeeded int, ok bool) {
	s.set.GetOrCreateCounter(itemsName("attempted", mapName, op)).Add(attempted)
	s.set.GetOrCreateCounter(itemsName("succeeded", mapName, op)).Add(succeeded)
	s.set.GetOrCreateCounter(callsName(mapName, op, ok)).Inc()
}

func (s *VMSink) BadKeys(mapName string, n int) {
	s.set.GetOrCreateCounter(badKeysName(mapName)).Add(n)
}

// --------------------------------------------------------------------------
// Exposition
// --------------------------------------------------------------------------

// WritePrometheus writes all counters in the Prometheus text format.
func (s *VMSink) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// Counts returns the counters of one map.
func (s *VMSink) Counts(mapName string) Counts {
	get := func(name string) int64 {
		return int64(s.set.GetOrCreateCounter(name).Get())
	}
	opCounts := func(op Op) OpCounts {
		return OpCounts{
			Attempted:   get(itemsName("attempted", mapName, op)),
			Succeeded:   get(itemsName("succeeded", mapName, op)),
			Calls:       get(callsName(mapName, op, true)) + get(callsName(mapName, op, false)),
			FailedCalls: get(callsName(mapName, op, false)),
		}
	}
	return Counts{
		Load:    opCounts(OpLoad),
		Store:   opCounts(OpStore),
		Delete:  opCounts(OpDelete),
		BadKeys: get(badKeysName(mapName)),
	}
}

func itemsName(kind, mapName string, op Op) string {
	return fmt.Sprintf("mapstore_items_%s_total{map=%q,op=%q}", kind, mapName, op.String())
}

func callsName(mapName string, op Op, ok bool) string {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	return fmt.Sprintf("mapstore_calls_total{map=%q,op=%q,outcome=%q}", mapName, op.String(), outcome)
}

func badKeysName(mapName string) string {
	return fmt.Sprintf("mapstore_bad_keys_total{map=%q}", mapName)
}
