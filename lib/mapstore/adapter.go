package mapstore

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ValentinKolb/dPersist/lib/health"
	"github.com/ValentinKolb/dPersist/lib/keycodec"
	"github.com/ValentinKolb/dPersist/lib/metrics"
	"github.com/ValentinKolb/dPersist/lib/pool"
	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("mapstore")

// Adapter is the map store backed by a durable column-oriented store.
//
// Every call leases one table handle from the pool and returns it before the
// call returns, on every path. Calls may be made concurrently; the pool is the
// only synchronization point.
type Adapter struct {
	backend table.IBackend
	sink    metrics.ISink
	health  *health.Tracker

	mapName string
	cfg     Config
	codec   keycodec.Codec
	pool    *pool.Pool
}

// NewAdapter creates an adapter on top of backend. A nil sink discards all
// metrics. The adapter must be initialised with Init before it is used.
func NewAdapter(backend table.IBackend, sink metrics.ISink) *Adapter {
	if sink == nil {
		sink = metrics.Discard
	}
	return &Adapter{
		backend: backend,
		sink:    sink,
		health:  health.NewTracker(),
		cfg:     DefaultConfig(""),
		codec:   keycodec.Identity(),
	}
}

// --------------------------------------------------------------------------
// Lifecycle Methods (docu see mapstore.ILifecycle)
// --------------------------------------------------------------------------

// Init parses the properties, makes sure the table and its column family exist
// and creates the handle pool.
func (a *Adapter) Init(props Properties, mapName string) error {
	if a.pool != nil {
		return fmt.Errorf("map store for map %q is already initialised", a.mapName)
	}
	if mapName == "" {
		return errors.New("map name must not be empty")
	}
	cfg, err := ParseConfig(props, mapName)
	if err != nil {
		return err
	}
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	if err := ensureTable(a.backend, cfg); err != nil {
		return err
	}

	a.mapName = mapName
	a.cfg = cfg
	a.codec = codec
	a.pool = pool.New(a.backend, cfg.PoolSize, pool.WithAcquireTimeout(cfg.AcquireTimeout))

	log.Infof("map store for map %s ready (backend=%s, table=%s, column=%s, pool=%d, bucketed=%t)",
		mapName, a.backend.Name(), cfg.Table, cfg.Column, cfg.PoolSize, cfg.PrefixDate)
	return nil
}

// Destroy closes all handles of the adapter's table.
func (a *Adapter) Destroy() {
	if err := a.pool.Close(a.cfg.Table); err != nil {
		log.Warningf("map %s: closing handles of table %s failed: %v", a.mapName, a.cfg.Table, err)
	}
}

// ensureTable creates the table with the default column family policy if it
// does not exist yet.
func ensureTable(backend table.IBackend, cfg Config) error {
	admin, err := backend.Admin()
	if err != nil {
		return fmt.Errorf("failed to open admin handle: %w", err)
	}
	defer func() {
		if err := admin.Close(); err != nil {
			log.Errorf("failed to close admin handle: %v", err)
		}
	}()

	exists, err := admin.TableExists(cfg.Table)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", cfg.Table, err)
	}
	if exists {
		return nil
	}
	desc := table.TableDescriptor{
		Name:     cfg.Table,
		Families: []table.FamilyDescriptor{table.DefaultFamily(cfg.Column.Family)},
	}
	if err := admin.CreateTable(desc); err != nil && !errors.Is(err, table.ErrTableExists) {
		return fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Health returns the tracker flipped by store and delete calls.
func (a *Adapter) Health() *health.Tracker {
	return a.health
}

// Config returns the configuration read by Init.
func (a *Adapter) Config() Config {
	return a.cfg
}

// PoolStats returns the usage counters of the adapter's handle pool.
func (a *Adapter) PoolStats() pool.Stats {
	if a.pool == nil {
		return pool.Stats{}
	}
	return a.pool.Stats(a.cfg.Table)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see mapstore.IMapStore)
// --------------------------------------------------------------------------

func (a *Adapter) Load(key string) (string, bool, Result) {
	if !a.cfg.AllowLoad {
		return "", false, Disabled()
	}
	row, err := a.encode(key)
	if err != nil {
		return "", false, NewResult(1, 0, 1, err)
	}

	var r table.Row
	err = a.withTable(func(t table.ITable) (err error) {
		r, err = t.Get(table.Get{Row: row, Column: a.cfg.Column})
		return err
	})
	if err != nil {
		log.Errorf("map %s: load of key %q failed: %v", a.mapName, key, err)
		a.sink.Record(a.mapName, metrics.OpLoad, 1, 0, false)
		return "", false, NewResult(1, 0, 0, err)
	}

	a.sink.Record(a.mapName, metrics.OpLoad, 1, 1, true)
	if r.Empty() {
		return "", false, NewResult(1, 1, 0, nil)
	}
	return string(r.Value), true, NewResult(1, 1, 0, nil)
}

func (a *Adapter) LoadAll(keys []string) (map[string]string, Result) {
	if !a.cfg.AllowLoadAll {
		return nil, Disabled()
	}
	gets := make([]table.Get, 0, len(keys))
	logical := make([]string, 0, len(keys))
	badKeys := 0
	for _, key := range keys {
		row, err := a.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		gets = append(gets, table.Get{Row: row, Column: a.cfg.Column})
		logical = append(logical, key)
	}

	entries := make(map[string]string, len(gets))
	if len(gets) == 0 {
		a.sink.Record(a.mapName, metrics.OpLoad, len(keys), 0, true)
		return entries, NewResult(len(keys), 0, badKeys, nil)
	}

	var rows []table.Row
	err := a.withTable(func(t table.ITable) (err error) {
		rows, err = t.MultiGet(gets)
		return err
	})
	if err != nil {
		log.Errorf("map %s: loading %d keys failed: %v", a.mapName, len(gets), err)
		a.sink.Record(a.mapName, metrics.OpLoad, len(keys), 0, false)
		return nil, NewResult(len(keys), 0, badKeys, err)
	}

	for i, r := range rows {
		if !r.Empty() {
			entries[logical[i]] = string(r.Value)
		}
	}
	a.sink.Record(a.mapName, metrics.OpLoad, len(keys), len(entries), true)
	return entries, NewResult(len(keys), len(entries), badKeys, nil)
}

// LoadAllKeys scans the configured column. The returned keys are the row
// identifiers as strings, which differ from the logical keys when the bucketed
// codec is enabled, unless the scan.decode.keys property is set. Rows that
// cannot be decoded are then skipped and counted as bad keys.
func (a *Adapter) LoadAllKeys() ([]string, Result) {
	if !a.cfg.AllowLoadAll {
		return nil, Disabled()
	}
	keys := make([]string, 0)
	badKeys := 0
	err := a.withTable(func(t table.ITable) error {
		scanner, err := t.Scan(table.Scan{Column: a.cfg.Column, Caching: a.cfg.ScanBatch})
		if err != nil {
			return err
		}
		defer func() {
			if err := scanner.Close(); err != nil {
				log.Warningf("map %s: closing scanner failed: %v", a.mapName, err)
			}
		}()
		for {
			r, ok, err := scanner.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			key := string(r.Key)
			if a.cfg.DecodeScanKeys {
				if key, err = a.codec.Decode(r.Key); err != nil {
					log.Warningf("map %s: skipping row %x: %v", a.mapName, r.Key, err)
					badKeys++
					continue
				}
			}
			keys = append(keys, key)
		}
	})
	if badKeys > 0 {
		a.sink.BadKeys(a.mapName, badKeys)
	}
	if err != nil {
		log.Errorf("map %s: loading all keys failed after %d keys: %v", a.mapName, len(keys), err)
	}
	a.sink.Record(a.mapName, metrics.OpLoad, len(keys), len(keys), err == nil)
	return keys, NewResult(len(keys), len(keys), badKeys, err)
}

func (a *Adapter) Delete(key string) Result {
	if !a.cfg.AllowDelete {
		return Disabled()
	}
	row, err := a.encode(key)
	if err != nil {
		return NewResult(1, 0, 1, err)
	}

	err = a.withTable(func(t table.ITable) error {
		return t.Delete(table.Delete{Row: row})
	})
	a.health.Set(err == nil)
	if err != nil {
		log.Errorf("map %s: delete of key %q failed: %v", a.mapName, key, err)
		a.sink.Record(a.mapName, metrics.OpDelete, 1, 0, false)
		return NewResult(1, 0, 0, err)
	}
	a.sink.Record(a.mapName, metrics.OpDelete, 1, 1, true)
	return NewResult(1, 1, 0, nil)
}

// DeleteAll skips keys that cannot be encoded in the same way as StoreAll and
// deletes the rest in one request.
func (a *Adapter) DeleteAll(keys []string) Result {
	if !a.cfg.AllowDelete {
		return Disabled()
	}
	deletes := make([]table.Delete, 0, len(keys))
	badKeys := 0
	for _, key := range keys {
		row, err := a.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		deletes = append(deletes, table.Delete{Row: row})
	}
	if len(deletes) == 0 {
		a.sink.Record(a.mapName, metrics.OpDelete, len(keys), 0, true)
		return NewResult(len(keys), 0, badKeys, nil)
	}

	err := a.withTable(func(t table.ITable) error {
		return t.MultiDelete(deletes)
	})
	a.health.Set(err == nil)
	if err != nil {
		log.Errorf("map %s: deleting %d keys failed: %v", a.mapName, len(deletes), err)
		a.sink.Record(a.mapName, metrics.OpDelete, len(keys), 0, false)
		return NewResult(len(keys), 0, badKeys, err)
	}
	a.sink.Record(a.mapName, metrics.OpDelete, len(keys), len(deletes), true)
	return NewResult(len(keys), len(deletes), badKeys, nil)
}

func (a *Adapter) Store(key, value string) Result {
	row, err := a.encode(key)
	if err != nil {
		return NewResult(1, 0, 1, err)
	}

	err = a.withTable(func(t table.ITable) error {
		return t.Put(table.Put{Row: row, Column: a.cfg.Column, Value: []byte(value)})
	})
	a.health.Set(err == nil)
	if err != nil {
		log.Errorf("map %s: store of key %q failed: %v", a.mapName, key, err)
		a.sink.Record(a.mapName, metrics.OpStore, 1, 0, false)
		return NewResult(1, 0, 0, err)
	}
	a.sink.Record(a.mapName, metrics.OpStore, 1, 1, true)
	return NewResult(1, 1, 0, nil)
}

// StoreAll buffers all puts with auto-flush disabled and sends them with a
// single flush. If the flush fails no item is counted as stored, although the
// store may have applied some of them.
func (a *Adapter) StoreAll(entries map[string]string) Result {
	puts := make([]table.Put, 0, len(entries))
	badKeys := 0
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		row, err := a.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		puts = append(puts, table.Put{Row: row, Column: a.cfg.Column, Value: []byte(entries[key])})
	}
	if len(puts) == 0 {
		a.sink.Record(a.mapName, metrics.OpStore, len(entries), 0, true)
		return NewResult(len(entries), 0, badKeys, nil)
	}

	err := a.withTable(func(t table.ITable) error {
		t.SetAutoFlush(false)
		if err := t.MultiPut(puts); err != nil {
			return err
		}
		return t.Flush()
	})
	a.health.Set(err == nil)
	if err != nil {
		log.Errorf("map %s: storing %d entries failed: %v", a.mapName, len(puts), err)
		a.sink.Record(a.mapName, metrics.OpStore, len(entries), 0, false)
		return NewResult(len(entries), 0, badKeys, err)
	}
	a.sink.Record(a.mapName, metrics.OpStore, len(entries), len(puts), true)
	return NewResult(len(entries), len(puts), badKeys, nil)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// encode encodes a key and reports a failure as a bad key.
func (a *Adapter) encode(key string) ([]byte, error) {
	row, err := a.codec.Encode(key)
	if err != nil {
		log.Warningf("map %s: encountered bad key %q: %v", a.mapName, key, err)
		a.sink.BadKeys(a.mapName, 1)
		return nil, err
	}
	return row, nil
}

// withTable leases a handle for the duration of fn. The handle is released on
// every path, including a panic in fn.
func (a *Adapter) withTable(fn func(t table.ITable) error) error {
	h, err := a.pool.Acquire(a.cfg.Table)
	if err != nil {
		return fmt.Errorf("failed to acquire handle for table %s: %w", a.cfg.Table, err)
	}
	defer a.pool.Release(h)
	return fn(h.Table())
}
