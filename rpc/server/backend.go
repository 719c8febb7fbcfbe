package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/ValentinKolb/dPersist/lib/table/dynamotable"
	"github.com/ValentinKolb/dPersist/lib/table/memtable"
	"github.com/ValentinKolb/dPersist/lib/table/redistable"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/spf13/cast"
)

// snapshotFile is the name of the memory backend snapshot inside the data dir
const snapshotFile = "memtable.snapshot"

// NewBackend creates the durable store backend named by config.Backend.
// Properties prefixed with the backend name (e.g. "redis.url") configure it.
func NewBackend(config common.ServerConfig) (table.IBackend, error) {
	name := strings.ToLower(strings.TrimSpace(config.Backend))
	props := config.Properties.WithPrefix(name)

	switch name {
	case common.BackendMemory, "":
		db := memtable.New()
		if config.DataDir != "" {
			path := filepath.Join(config.DataDir, snapshotFile)
			if err := db.LoadFile(path); err != nil {
				return nil, fmt.Errorf("failed to load memory snapshot %s: %w", path, err)
			}
			Logger.Infof("memory backend restored from %s (%d tables)", path, len(db.Tables()))
		}
		return db, nil

	case common.BackendDynamoDB:
		cfg, err := dynamoConfig(props)
		if err != nil {
			return nil, err
		}
		return dynamotable.New(cfg)

	case common.BackendRedis:
		cfg, err := redisConfig(props)
		if err != nil {
			return nil, err
		}
		return redistable.New(cfg)

	default:
		return nil, fmt.Errorf("unknown backend %q (must be one of %s, %s, %s)",
			config.Backend, common.BackendMemory, common.BackendDynamoDB, common.BackendRedis)
	}
}

// saveSnapshot persists the memory backend into the data dir (no-op for other backends)
func saveSnapshot(backend table.IBackend, dataDir string) error {
	db, ok := backend.(*memtable.DB)
	if !ok || dataDir == "" {
		return nil
	}
	path := filepath.Join(dataDir, snapshotFile)
	if err := db.SaveFile(path); err != nil {
		return fmt.Errorf("failed to save memory snapshot %s: %w", path, err)
	}
	Logger.Infof("memory backend saved to %s", path)
	return nil
}

// --------------------------------------------------------------------------
// Backend property parsing
// --------------------------------------------------------------------------

func dynamoConfig(props mapstore.Properties) (dynamotable.Config, error) {
	cfg := dynamotable.Config{
		Region:          props["region"],
		Endpoint:        props["endpoint"],
		AccessKeyID:     props["access.key.id"],
		SecretAccessKey: props["secret.access.key"],
		SessionToken:    props["session.token"],
		TablePrefix:     props["table.prefix"],
	}
	var err error
	if v, ok := props["consistent.read"]; ok {
		if cfg.ConsistentRead, err = cast.ToBoolE(v); err != nil {
			return cfg, fmt.Errorf("dynamodb.consistent.read: %w", err)
		}
	}
	if v, ok := props["operation.timeout"]; ok {
		if cfg.OperationTimeout, err = cast.ToDurationE(v); err != nil {
			return cfg, fmt.Errorf("dynamodb.operation.timeout: %w", err)
		}
	}
	if v, ok := props["create.timeout"]; ok {
		if cfg.CreateTimeout, err = cast.ToDurationE(v); err != nil {
			return cfg, fmt.Errorf("dynamodb.create.timeout: %w", err)
		}
	}
	return cfg, nil
}

func redisConfig(props mapstore.Properties) (redistable.Config, error) {
	cfg := redistable.Config{
		URL:       props["url"],
		KeyPrefix: props["key.prefix"],
	}
	var err error
	if v, ok := props["max.conns"]; ok {
		if cfg.MaxConns, err = cast.ToIntE(v); err != nil {
			return cfg, fmt.Errorf("redis.max.conns: %w", err)
		}
	}
	if v, ok := props["operation.timeout"]; ok {
		if cfg.OperationTimeout, err = cast.ToDurationE(v); err != nil {
			return cfg, fmt.Errorf("redis.operation.timeout: %w", err)
		}
	}
	return cfg, nil
}
