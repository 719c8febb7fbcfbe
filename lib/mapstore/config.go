package mapstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/keycodec"
	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/spf13/cast"
)

// --------------------------------------------------------------------------
// Property Names
// --------------------------------------------------------------------------

const (
	PropPrefix = "mapstore." // All properties read by the map store start with this prefix

	PropTable           = "mapstore.table"
	PropColumnFamily    = "mapstore.column.family"
	PropColumnQualifier = "mapstore.column.qualifier"
	PropPoolSize        = "mapstore.pool.size"
	PropAcquireTimeout  = "mapstore.pool.acquire.timeout"
	PropPrefixDate      = "mapstore.key.prefix.date"
	PropBuckets         = "mapstore.key.buckets"
	PropAllowLoad       = "mapstore.allow.load"
	PropAllowLoadAll    = "mapstore.allow.load.all"
	PropAllowDelete     = "mapstore.allow.delete"
	PropScanBatch       = "mapstore.scan.batch"
	PropScanDecodeKeys  = "mapstore.scan.decode.keys"
)

// knownProps is used to warn about misspelled properties.
var knownProps = map[string]struct{}{
	PropTable: {}, PropColumnFamily: {}, PropColumnQualifier: {}, PropPoolSize: {},
	PropAcquireTimeout: {}, PropPrefixDate: {}, PropBuckets: {}, PropAllowLoad: {},
	PropAllowLoadAll: {}, PropAllowDelete: {}, PropScanBatch: {}, PropScanDecodeKeys: {},
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config is the parsed configuration of one map store.
type Config struct {
	Table          string        // Table name (defaults to the map name)
	Column         table.Column  // Column the values are stored in
	PoolSize       int           // Handles per table
	AcquireTimeout time.Duration // 0 blocks until a handle is free, < 0 fails immediately
	PrefixDate     bool          // Enables the bucketed key codec
	Buckets        int           // Bucket count of the bucketed key codec
	AllowLoad      bool
	AllowLoadAll   bool
	AllowDelete    bool
	ScanBatch      int  // Rows fetched per round trip by LoadAllKeys
	DecodeScanKeys bool // LoadAllKeys returns logical keys instead of row identifiers
}

// DefaultConfig returns the configuration used for properties that are not set.
func DefaultConfig(mapName string) Config {
	return Config{
		Table:          mapName,
		Column:         table.Column{Family: "data", Qualifier: "json"},
		PoolSize:       10,
		AcquireTimeout: 0,
		PrefixDate:     false,
		Buckets:        keycodec.DefaultBuckets,
		AllowLoad:      true,
		AllowLoadAll:   true,
		AllowDelete:    true,
		ScanBatch:      100,
		DecodeScanKeys: false,
	}
}

// ParseConfig reads the configuration of a map from props. Properties that are
// not set keep their default. Any invalid value is an error.
func ParseConfig(props Properties, mapName string) (Config, error) {
	cfg := DefaultConfig(mapName)
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := props[name]; ok {
			v = strings.TrimSpace(v)
			if v == "" {
				errs = append(errs, fmt.Errorf("%s must not be empty", name))
				return
			}
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := props[name]; ok {
			b, err := cast.ToBoolE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := props[name]; ok {
			i, err := cast.ToIntE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = i
		}
	}

	str(PropTable, &cfg.Table)
	str(PropColumnFamily, &cfg.Column.Family)
	str(PropColumnQualifier, &cfg.Column.Qualifier)
	integer(PropPoolSize, &cfg.PoolSize)
	if v, ok := props[PropAcquireTimeout]; ok {
		d, err := cast.ToDurationE(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", PropAcquireTimeout, err))
		} else {
			cfg.AcquireTimeout = d
		}
	}
	boolean(PropPrefixDate, &cfg.PrefixDate)
	integer(PropBuckets, &cfg.Buckets)
	boolean(PropAllowLoad, &cfg.AllowLoad)
	boolean(PropAllowLoadAll, &cfg.AllowLoadAll)
	boolean(PropAllowDelete, &cfg.AllowDelete)
	integer(PropScanBatch, &cfg.ScanBatch)
	boolean(PropScanDecodeKeys, &cfg.DecodeScanKeys)

	if len(errs) == 0 {
		errs = append(errs, cfg.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid map store properties for map %q: %w", mapName, err)
	}

	for _, name := range props.Names() {
		if _, ok := knownProps[name]; !ok && strings.HasPrefix(name, PropPrefix) {
			log.Warningf("map %s: ignoring unknown property %s", mapName, name)
		}
	}
	return cfg, nil
}

// Validate checks the value ranges of the configuration.
func (c Config) Validate() error {
	switch {
	case c.Table == "":
		return errors.New("table name must not be empty")
	case c.Column.Family == "" || c.Column.Qualifier == "":
		return errors.New("column family and qualifier must not be empty")
	case c.PoolSize <= 0:
		return fmt.Errorf("%s must be positive, got %d", PropPoolSize, c.PoolSize)
	case c.Buckets <= 0 || c.Buckets > keycodec.MaxBuckets:
		return fmt.Errorf("%s must be in [1, %d], got %d", PropBuckets, keycodec.MaxBuckets, c.Buckets)
	case c.ScanBatch <= 0:
		return fmt.Errorf("%s must be positive, got %d", PropScanBatch, c.ScanBatch)
	}
	return nil
}

// Codec returns the key codec selected by the configuration.
func (c Config) Codec() (keycodec.Codec, error) {
	if !c.PrefixDate {
		return keycodec.Identity(), nil
	}
	return keycodec.Bucketed(c.Buckets)
}

// --------------------------------------------------------------------------
// Properties Helpers
// --------------------------------------------------------------------------

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithPrefix returns the properties whose name starts with prefix + ".",
// with that part removed. It is used to forward backend specific properties
// (e.g. "dynamodb.region") to the backend configuration.
func (p Properties) WithPrefix(prefix string) Properties {
	prefix = strings.TrimSuffix(prefix, ".") + "."
	out := Properties{}
	for name, v := range p {
		if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// Merge returns a copy of p with all properties of other added (other wins).
func (p Properties) Merge(other Properties) Properties {
	out := make(Properties, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
