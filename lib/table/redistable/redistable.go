package redistable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.GetLogger("table")

const (
	defaultOperationTimeout = 5 * time.Second
	defaultCaching          = 100
)

// Config holds the Redis backend configuration.
type Config struct {
	URL              string        // e.g. redis://localhost:6379/0
	KeyPrefix        string        // Prepended to every key
	MaxConns         int           // Connection pool size of the client (0 = go-redis default)
	OperationTimeout time.Duration // Timeout per request (default 5s)
}

// Backend stores tables in Redis. Every table handle pins one connection of
// the client pool until it is closed.
type Backend struct {
	client *redis.Client
	cfg    Config
	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and verifies the connection with a PING.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second

	b := NewWithClient(redis.NewClient(opts), cfg)

	ctx, cancel := b.withOperationTimeout(context.Background())
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Infof("redis backend initialized (max_conns=%d, prefix=%q)", cfg.MaxConns, cfg.KeyPrefix)
	return b, nil
}

// NewWithClient creates a backend on top of an existing client. The backend
// takes ownership of the client and closes it on Close.
func NewWithClient(client *redis.Client, cfg Config) *Backend {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	return &Backend{client: client, cfg: cfg}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see table.IBackend)
// --------------------------------------------------------------------------

func (b *Backend) Name() string {
	return "redis"
}

func (b *Backend) SupportsFeature(feature table.Feature) bool {
	return feature == table.FeatureOrderedScan
}

func (b *Backend) OpenTable(name string) (table.ITable, error) {
	if b.isClosed() {
		return nil, table.ErrClosed
	}
	exists, err := b.tableExists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, table.NotFound(name)
	}

	h := &handle{
		b:    b,
		name: name,
		keys: b.layout(name),
		conn: b.client.Conn(),
	}
	h.buf = table.NewWriteBuffer(h.apply)
	return h, nil
}

func (b *Backend) Admin() (table.IAdmin, error) {
	if b.isClosed() {
		return nil, table.ErrClosed
	}
	return &admin{b: b}, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (b *Backend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Backend) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.cfg.OperationTimeout)
}

func (b *Backend) layout(name string) keyLayout {
	return keyLayout{prefix: b.cfg.KeyPrefix + name}
}

func (b *Backend) tableExists(name string) (bool, error) {
	ctx, cancel := b.withOperationTimeout(context.Background())
	defer cancel()
	n, err := b.client.Exists(ctx, b.layout(name).meta()).Result()
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n == 1, nil
}

// --------------------------------------------------------------------------
// Key Layout
// --------------------------------------------------------------------------

// keyLayout names the keys of one table:
//
//	<prefix><table>:meta      hash, table name and column families
//	<prefix><table>:rows      sorted set of all row keys (score 0, ordered by bytes)
//	<prefix><table>:r:<row>   hash, one field per family:qualifier
type keyLayout struct {
	prefix string
}

func (k keyLayout) meta() string {
	return k.prefix + ":meta"
}

func (k keyLayout) rows() string {
	return k.prefix + ":rows"
}

func (k keyLayout) row(row []byte) string {
	return k.prefix + ":r:" + string(row)
}

// lexFrom returns the inclusive lower ZRANGEBYLEX bound for a start row.
func lexFrom(start []byte) string {
	if len(start) == 0 {
		return "-"
	}
	return "[" + string(start)
}

// lexAfter returns the exclusive lower ZRANGEBYLEX bound following row.
func lexAfter(row string) string {
	return "(" + row
}

// --------------------------------------------------------------------------
// Admin
// --------------------------------------------------------------------------

type admin struct {
	b *Backend
}

func (a *admin) TableExists(name string) (bool, error) {
	if a.b.isClosed() {
		return false, table.ErrClosed
	}
	return a.b.tableExists(name)
}

// CreateTable writes the table meta hash. Column family policies are recorded
// but not applied, Redis keeps all values uncompressed in memory.
func (a *admin) CreateTable(desc table.TableDescriptor) error {
	if a.b.isClosed() {
		return table.ErrClosed
	}
	if desc.Name == "" {
		return fmt.Errorf("table name is required")
	}
	meta := a.b.layout(desc.Name).meta()

	ctx, cancel := a.b.withOperationTimeout(context.Background())
	defer cancel()

	created, err := a.b.client.HSetNX(ctx, meta, "name", desc.Name).Result()
	if err != nil {
		return fmt.Errorf("create table %s: %w", desc.Name, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", table.ErrTableExists, desc.Name)
	}

	if len(desc.Families) > 0 {
		fields := make([]any, 0, 2*len(desc.Families))
		for _, f := range desc.Families {
			fields = append(fields, "family:"+f.Name, string(f.Compression))
		}
		if err := a.b.client.HSet(ctx, meta, fields...).Err(); err != nil {
			return fmt.Errorf("create table %s: %w", desc.Name, err)
		}
	}

	log.Infof("created redis table %s", desc.Name)
	return nil
}

func (a *admin) Close() error {
	return nil
}

// isNil reports whether err is the "no such key/field" reply.
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
