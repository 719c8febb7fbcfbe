package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("pool")

var (
	// ErrPoolExhausted is returned by Acquire if no handle became available within the acquire timeout.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrPoolClosed is returned by Acquire if the pool of the table was closed.
	ErrPoolClosed = errors.New("pool closed")
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type options struct {
	acquireTimeout time.Duration
}

// Option configures a Pool.
type Option func(*options)

// WithAcquireTimeout sets how long Acquire waits for a free handle when the
// pool is exhausted. 0 (default) waits until a handle is released, a negative
// value fails immediately.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		o.acquireTimeout = d
	}
}

// --------------------------------------------------------------------------
// Core Structures
// --------------------------------------------------------------------------

// Stats is a snapshot of the usage counters of one table pool.
type Stats struct {
	Acquired uint64 // Successful Acquire calls
	Released uint64 // Accepted Release calls (double releases are not counted)
	Created  uint64 // Handles opened through the connector
	Idle     int    // Handles at rest in the pool
	InUse    int    // Handles currently leased
}

// Pool hands out table handles. Every table name gets its own bounded set of
// at most capacity handles. Handles are opened lazily through the connector
// and reused after release.
//
// Thread-safety: All methods are safe for concurrent use.
type Pool struct {
	connector table.IConnector
	capacity  int
	opts      options
	tables    *xsync.MapOf[string, *tablePool]
}

// tablePool is the bounded set of handles for one table.
// slots holds one token per leased handle.
type tablePool struct {
	name  string
	slots chan struct{}
	done  chan struct{} // closed when the pool is closed

	mu     sync.Mutex
	idle   []table.ITable
	closed bool

	acquired atomic.Uint64
	released atomic.Uint64
	created  atomic.Uint64
}

// Handle is a leased table handle. It must be returned with Pool.Release
// exactly once and must not be used afterwards.
type Handle struct {
	id       string
	t        table.ITable
	tp       *tablePool
	released atomic.Bool
}

// New creates a pool with at most capacity handles per table.
func New(connector table.IConnector, capacity int, opts ...Option) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{
		connector: connector,
		capacity:  capacity,
		opts:      o,
		tables:    xsync.NewMapOf[string, *tablePool](),
	}
}

// --------------------------------------------------------------------------
// Pool Methods
// --------------------------------------------------------------------------

// Capacity returns the maximum number of handles per table.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Acquire leases a handle for the table. It reuses an idle handle, opens a new
// one while the table is below capacity, and otherwise waits according to the
// acquire timeout. Errors of the connector are returned wrapped.
func (p *Pool) Acquire(tableName string) (*Handle, error) {
	if p == nil {
		return nil, ErrPoolClosed
	}
	tp, _ := p.tables.LoadOrCompute(tableName, func() *tablePool {
		return &tablePool{
			name:  tableName,
			slots: make(chan struct{}, p.capacity),
			done:  make(chan struct{}),
		}
	})

	if err := tp.take(p.opts.acquireTimeout); err != nil {
		return nil, err
	}

	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		tp.give()
		return nil, ErrPoolClosed
	}
	if n := len(tp.idle); n > 0 {
		t := tp.idle[n-1]
		tp.idle = tp.idle[:n-1]
		tp.mu.Unlock()
		return tp.lease(t), nil
	}
	tp.mu.Unlock()

	t, err := p.connector.OpenTable(tableName)
	if err != nil {
		tp.give()
		return nil, fmt.Errorf("open handle for table %s: %w", tableName, err)
	}
	tp.created.Add(1)
	log.Debugf("opened handle %d for table %s", tp.created.Load(), tableName)
	return tp.lease(t), nil
}

// Release returns a handle to its pool. The pool does not inspect the outcome
// of the last operation. Auto-flush is re-enabled before the handle is reused.
// Releasing a handle twice is ignored (and logged), releasing into a closed
// pool closes the handle.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		log.Warningf("handle %s of table %s released twice, ignoring", h.id, h.tp.name)
		return
	}
	tp := h.tp
	tp.released.Add(1)

	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		if err := h.t.Close(); err != nil {
			log.Warningf("failed to close handle of table %s: %v", tp.name, err)
		}
	} else {
		h.t.SetAutoFlush(true)
		tp.idle = append(tp.idle, h.t)
		tp.mu.Unlock()
	}
	tp.give()
}

// Close closes all idle handles of the table and marks its pool closed, so
// leased handles are closed when they are released and waiting Acquire calls
// fail with ErrPoolClosed. A later Acquire starts a new pool. Close is
// idempotent and safe to call on a nil Pool.
func (p *Pool) Close(tableName string) error {
	if p == nil {
		return nil
	}
	tp, ok := p.tables.LoadAndDelete(tableName)
	if !ok {
		return nil
	}
	return tp.close()
}

// CloseAll closes the pools of all tables.
func (p *Pool) CloseAll() error {
	if p == nil {
		return nil
	}
	var errs []error
	p.tables.Range(func(name string, _ *tablePool) bool {
		errs = append(errs, p.Close(name))
		return true
	})
	return errors.Join(errs...)
}

// Stats returns the usage counters of the table. Unknown (or closed) tables
// report zero values.
func (p *Pool) Stats(tableName string) Stats {
	if p == nil {
		return Stats{}
	}
	tp, ok := p.tables.Load(tableName)
	if !ok {
		return Stats{}
	}
	tp.mu.Lock()
	idle := len(tp.idle)
	tp.mu.Unlock()

	acquired, released := tp.acquired.Load(), tp.released.Load()
	return Stats{
		Acquired: acquired,
		Released: released,
		Created:  tp.created.Load(),
		Idle:     idle,
		InUse:    int(acquired - released),
	}
}

// --------------------------------------------------------------------------
// Handle Methods
// --------------------------------------------------------------------------

// ID returns the lease id, unique per Acquire.
func (h *Handle) ID() string {
	return h.id
}

// Table returns the leased table handle.
func (h *Handle) Table() table.ITable {
	return h.t
}

// --------------------------------------------------------------------------
// Table Pool Helpers
// --------------------------------------------------------------------------

// take reserves a slot.
func (tp *tablePool) take(timeout time.Duration) error {
	select {
	case <-tp.done:
		return ErrPoolClosed
	case tp.slots <- struct{}{}:
		return nil
	default:
	}

	if timeout < 0 {
		return fmt.Errorf("%w: table %s", ErrPoolExhausted, tp.name)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case tp.slots <- struct{}{}:
		return nil
	case <-tp.done:
		return ErrPoolClosed
	case <-expired:
		return fmt.Errorf("%w: table %s (waited %s)", ErrPoolExhausted, tp.name, timeout)
	}
}

// give frees a slot.
func (tp *tablePool) give() {
	<-tp.slots
}

func (tp *tablePool) lease(t table.ITable) *Handle {
	tp.acquired.Add(1)
	return &Handle{id: uuid.NewString(), t: t, tp: tp}
}

func (tp *tablePool) close() error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return nil
	}
	tp.closed = true
	close(tp.done)
	idle := tp.idle
	tp.idle = nil
	tp.mu.Unlock()

	var errs []error
	for _, t := range idle {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Infof("closed pool of table %s (%d idle handles)", tp.name, len(idle))
	return errors.Join(errs...)
}
