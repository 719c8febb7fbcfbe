package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// RegistrySink records the counters in a go-metrics registry under names like
// "mapstore.users.store.attempted". It is used for in-process reporting (tests,
// the CLI benchmark summary).
type RegistrySink struct {
	r gometrics.Registry
}

// NewRegistrySink creates a sink on top of r. A nil registry creates a new one.
func NewRegistrySink(r gometrics.Registry) *RegistrySink {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &RegistrySink{r: r}
}

func (s *RegistrySink) Record(mapName string, op Op, attempted, succeeded int, ok bool) {
	prefix := "mapstore." + mapName + "." + op.String()
	gometrics.GetOrRegisterCounter(prefix+".attempted", s.r).Inc(int64(attempted))
	gometrics.GetOrRegisterCounter(prefix+".succeeded", s.r).Inc(int64(succeeded))
	gometrics.GetOrRegisterCounter(prefix+".calls", s.r).Inc(1)
	if !ok {
		gometrics.GetOrRegisterCounter(prefix+".failed", s.r).Inc(1)
	}
}

func (s *RegistrySink) BadKeys(mapName string, n int) {
	gometrics.GetOrRegisterCounter("mapstore."+mapName+".badkeys", s.r).Inc(int64(n))
}

// Registry returns the underlying registry.
func (s *RegistrySink) Registry() gometrics.Registry {
	return s.r
}

// Counts returns the counters of one map.
func (s *RegistrySink) Counts(mapName string) Counts {
	get := func(name string) int64 {
		return gometrics.GetOrRegisterCounter(name, s.r).Count()
	}
	opCounts := func(op Op) OpCounts {
		prefix := "mapstore." + mapName + "." + op.String()
		return OpCounts{
			Attempted:   get(prefix + ".attempted"),
			Succeeded:   get(prefix + ".succeeded"),
			Calls:       get(prefix + ".calls"),
			FailedCalls: get(prefix + ".failed"),
		}
	}
	return Counts{
		Load:    opCounts(OpLoad),
		Store:   opCounts(OpStore),
		Delete:  opCounts(OpDelete),
		BadKeys: get("mapstore." + mapName + ".badkeys"),
	}
}
