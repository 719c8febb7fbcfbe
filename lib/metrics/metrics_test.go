package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// countingSink is a sink that can report its counters.
type countingSink interface {
	ISink
	Counts(mapName string) Counts
}

func sinks() map[string]func() countingSink {
	return map[string]func() countingSink{
		"VictoriaMetrics": func() countingSink { return NewVMSink() },
		"GoMetrics":       func() countingSink { return NewRegistrySink(nil) },
	}
}

func TestSinks(t *testing.T) {
	for name, factory := range sinks() {
		t.Run(name, func(t *testing.T) {
			t.Run("Record", func(t *testing.T) {
				s := factory()
				s.Record("users", OpStore, 5, 3, true)
				s.Record("users", OpStore, 2, 0, false)
				s.Record("users", OpLoad, 1, 1, true)
				s.BadKeys("users", 2)
				s.Record("orders", OpDelete, 4, 4, true)

				c := s.Counts("users")
				expected := OpCounts{Attempted: 7, Succeeded: 3, Calls: 2, FailedCalls: 1}
				if c.Store != expected {
					t.Errorf("Expected store counts %+v, got %+v", expected, c.Store)
				}
				if c.Load.Attempted != 1 || c.Load.Succeeded != 1 {
					t.Errorf("Unexpected load counts %+v", c.Load)
				}
				if c.BadKeys != 2 {
					t.Errorf("Expected 2 bad keys, got %d", c.BadKeys)
				}
				if c.Delete != (OpCounts{}) {
					t.Errorf("Expected no delete counts for users, got %+v", c.Delete)
				}
				if got := s.Counts("orders").Of(OpDelete); got.Succeeded != 4 {
					t.Errorf("Expected maps to be counted separately, got %+v", got)
				}
			})

			t.Run("Concurrent", func(t *testing.T) {
				s := factory()
				var wg sync.WaitGroup
				for i := 0; i < 50; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for j := 0; j < 100; j++ {
							s.Record("users", OpLoad, 1, 1, true)
							s.BadKeys("users", 1)
						}
					}()
				}
				wg.Wait()
				c := s.Counts("users")
				if c.Load.Attempted != 5000 || c.Load.Calls != 5000 || c.BadKeys != 5000 {
					t.Errorf("Expected no lost increments, got %+v", c)
				}
			})
		})
	}
}

func TestVMSinkExposition(t *testing.T) {
	s := NewVMSink()
	s.Record("users", OpStore, 3, 3, true)
	s.BadKeys("users", 1)

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	out := buf.String()
	for _, line := range []string{
		`mapstore_items_attempted_total{map="users",op="store"} 3`,
		`mapstore_items_succeeded_total{map="users",op="store"} 3`,
		`mapstore_calls_total{map="users",op="store",outcome="ok"} 1`,
		`mapstore_bad_keys_total{map="users"} 1`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("Expected exposition to contain %q, got:\n%s", line, out)
		}
	}
}

func TestOpString(t *testing.T) {
	for op, expected := range map[Op]string{OpLoad: "load", OpStore: "store", OpDelete: "delete", Op(9): "unknown"} {
		if op.String() != expected {
			t.Errorf("Expected %s, got %s", expected, op.String())
		}
	}
	Discard.Record("users", OpLoad, 1, 1, true)
	Discard.BadKeys("users", 1)
}
