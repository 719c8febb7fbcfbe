package mapstore

import (
	"errors"
	"sort"

	"github.com/ValentinKolb/dPersist/lib/health"
	"github.com/ValentinKolb/dPersist/lib/keycodec"
	"github.com/ValentinKolb/dPersist/lib/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemStore is an in-memory map store without a durable backend. It honours the
// same properties as the Adapter (enablement flags, bucketed keys, scan key
// decoding) and reports the same metrics, which makes it a drop-in fake for
// callers of IMapStore. Data is lost on Destroy.
type MemStore struct {
	sink   metrics.ISink
	health *health.Tracker

	mapName string
	cfg     Config
	codec   keycodec.Codec
	rows    *xsync.MapOf[string, string] // row identifier -> value
}

// NewMemStore creates an in-memory map store. A nil sink discards all metrics.
func NewMemStore(sink metrics.ISink) *MemStore {
	if sink == nil {
		sink = metrics.Discard
	}
	return &MemStore{
		sink:   sink,
		health: health.NewTracker(),
		cfg:    DefaultConfig(""),
		codec:  keycodec.Identity(),
		rows:   xsync.NewMapOf[string, string](),
	}
}

// --------------------------------------------------------------------------
// Lifecycle Methods (docu see mapstore.ILifecycle)
// --------------------------------------------------------------------------

func (m *MemStore) Init(props Properties, mapName string) error {
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
	m.mapName, m.cfg, m.codec = mapName, cfg, codec
	return nil
}

func (m *MemStore) Destroy() {
	m.rows.Clear()
}

// Health returns the tracker flipped by store and delete calls.
func (m *MemStore) Health() *health.Tracker {
	return m.health
}

// Len returns the number of stored entries.
func (m *MemStore) Len() int {
	return m.rows.Size()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see mapstore.IMapStore)
// --------------------------------------------------------------------------

func (m *MemStore) Load(key string) (string, bool, Result) {
	if !m.cfg.AllowLoad {
		return "", false, Disabled()
	}
	row, err := m.encode(key)
	if err != nil {
		return "", false, NewResult(1, 0, 1, err)
	}
	m.sink.Record(m.mapName, metrics.OpLoad, 1, 1, true)
	v, ok := m.rows.Load(row)
	return v, ok, NewResult(1, 1, 0, nil)
}

func (m *MemStore) LoadAll(keys []string) (map[string]string, Result) {
	if !m.cfg.AllowLoadAll {
		return nil, Disabled()
	}
	entries := make(map[string]string, len(keys))
	badKeys := 0
	for _, key := range keys {
		row, err := m.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		if v, ok := m.rows.Load(row); ok {
			entries[key] = v
		}
	}
	m.sink.Record(m.mapName, metrics.OpLoad, len(keys), len(entries), true)
	return entries, NewResult(len(keys), len(entries), badKeys, nil)
}

func (m *MemStore) LoadAllKeys() ([]string, Result) {
	if !m.cfg.AllowLoadAll {
		return nil, Disabled()
	}
	keys := make([]string, 0, m.rows.Size())
	badKeys := 0
	m.rows.Range(func(row string, _ string) bool {
		key := row
		if m.cfg.DecodeScanKeys {
			var err error
			if key, err = m.codec.Decode([]byte(row)); err != nil {
				badKeys++
				return true
			}
		}
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	if badKeys > 0 {
		m.sink.BadKeys(m.mapName, badKeys)
	}
	m.sink.Record(m.mapName, metrics.OpLoad, len(keys), len(keys), true)
	return keys, NewResult(len(keys), len(keys), badKeys, nil)
}

func (m *MemStore) Delete(key string) Result {
	if !m.cfg.AllowDelete {
		return Disabled()
	}
	row, err := m.encode(key)
	if err != nil {
		return NewResult(1, 0, 1, err)
	}
	m.rows.Delete(row)
	m.health.MarkHealthy()
	m.sink.Record(m.mapName, metrics.OpDelete, 1, 1, true)
	return NewResult(1, 1, 0, nil)
}

func (m *MemStore) DeleteAll(keys []string) Result {
	if !m.cfg.AllowDelete {
		return Disabled()
	}
	deleted, badKeys := 0, 0
	for _, key := range keys {
		row, err := m.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		m.rows.Delete(row)
		deleted++
	}
	if deleted > 0 {
		m.health.MarkHealthy()
	}
	m.sink.Record(m.mapName, metrics.OpDelete, len(keys), deleted, true)
	return NewResult(len(keys), deleted, badKeys, nil)
}

func (m *MemStore) Store(key, value string) Result {
	row, err := m.encode(key)
	if err != nil {
		return NewResult(1, 0, 1, err)
	}
	m.rows.Store(row, value)
	m.health.MarkHealthy()
	m.sink.Record(m.mapName, metrics.OpStore, 1, 1, true)
	return NewResult(1, 1, 0, nil)
}

func (m *MemStore) StoreAll(entries map[string]string) Result {
	stored, badKeys := 0, 0
	for key, value := range entries {
		row, err := m.encode(key)
		if err != nil {
			badKeys++
			continue
		}
		m.rows.Store(row, value)
		stored++
	}
	if stored > 0 {
		m.health.MarkHealthy()
	}
	m.sink.Record(m.mapName, metrics.OpStore, len(entries), stored, true)
	return NewResult(len(entries), stored, badKeys, nil)
}

func (m *MemStore) encode(key string) (string, error) {
	row, err := m.codec.Encode(key)
	if err != nil {
		m.sink.BadKeys(m.mapName, 1)
		return "", err
	}
	return string(row), nil
}
