package metrics

// Op is the kind of map-store operation a metric is recorded for.
type Op uint8

const (
	OpLoad   Op = iota // load, loadAll and loadAllKeys
	OpStore            // store and storeAll
	OpDelete           // delete and deleteAll
)

func (o Op) String() string {
	switch o {
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ISink receives the per-map operation counters of the map store.
// Implementations must tolerate concurrent calls from many adapters.
type ISink interface {
	// Record adds the outcome of one call: the number of items attempted,
	// the number that succeeded and whether the call as a whole succeeded.
	Record(mapName string, op Op, attempted, succeeded int, ok bool)
	// BadKeys adds n keys that could not be encoded.
	BadKeys(mapName string, n int)
}

// OpCounts are the accumulated counters of one operation kind.
type OpCounts struct {
	Attempted   int64
	Succeeded   int64
	Calls       int64
	FailedCalls int64
}

// Counts are the accumulated counters of one map.
type Counts struct {
	Load    OpCounts
	Store   OpCounts
	Delete  OpCounts
	BadKeys int64
}

// Of returns the counters of one operation kind.
func (c Counts) Of(op Op) OpCounts {
	switch op {
	case OpLoad:
		return c.Load
	case OpStore:
		return c.Store
	default:
		return c.Delete
	}
}

// Discard is a sink that drops everything.
var Discard ISink = discard{}

type discard struct{}

func (discard) Record(string, Op, int, int, bool) {}
func (discard) BadKeys(string, int)               {}
