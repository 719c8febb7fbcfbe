package dynamotable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("table")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	rowAttr = "row" // Name of the binary partition key attribute

	maxBatchGet      = 100 // Keys per BatchGetItem request
	maxBatchWrite    = 25  // Requests per BatchWriteItem request
	maxTransactItems = 100 // Actions per TransactWriteItems request
	maxRetries       = 5   // Attempts for unprocessed batch items

	defaultOperationTimeout = 5 * time.Second
	defaultCreateTimeout    = 2 * time.Minute
)

// API is the subset of the DynamoDB client used by the backend.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Config holds the DynamoDB backend configuration.
type Config struct {
	Region           string
	Endpoint         string // Custom endpoint (e.g. DynamoDB local)
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	TablePrefix      string        // Prepended to every table name
	ConsistentRead   bool          // Use strongly consistent reads
	OperationTimeout time.Duration // Timeout per request (default 5s)
	CreateTimeout    time.Duration // Time to wait for a created table to become active (default 2m)
}

// Backend stores every table as a DynamoDB table with a binary partition key
// named "row". Each column is an attribute named family:qualifier.
type Backend struct {
	client API
	cfg    Config
	known  *xsync.MapOf[string, struct{}] // tables known to exist
	mu     sync.RWMutex
	closed bool
}

// New creates a backend from the AWS SDK default configuration chain and
// verifies connectivity with a ListTables call.
func New(cfg Config) (*Backend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	b := NewWithClient(dynamodb.NewFromConfig(awsCfg, opts...), cfg)
	if err := b.Ping(context.Background()); err != nil {
		return nil, err
	}

	log.Infof("dynamodb backend initialized (region=%s, endpoint=%s)", cfg.Region, cfg.Endpoint)
	return b, nil
}

// NewWithClient creates a backend on top of an existing client.
func NewWithClient(client API, cfg Config) *Backend {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaultCreateTimeout
	}
	return &Backend{
		client: client,
		cfg:    cfg,
		known:  xsync.NewMapOf[string, struct{}](),
	}
}

// Ping verifies that the service is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.isClosed() {
		return table.ErrClosed
	}
	opCtx, cancel := b.withOperationTimeout(ctx)
	defer cancel()
	if _, err := b.client.ListTables(opCtx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see table.IBackend)
// --------------------------------------------------------------------------

func (b *Backend) Name() string {
	return "dynamodb"
}

func (b *Backend) SupportsFeature(feature table.Feature) bool {
	return false
}

func (b *Backend) OpenTable(name string) (table.ITable, error) {
	if b.isClosed() {
		return nil, table.ErrClosed
	}
	if _, ok := b.known.Load(name); !ok {
		exists, err := b.tableExists(name)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, table.NotFound(name)
		}
		b.known.Store(name, struct{}{})
	}

	h := &handle{b: b, name: name, physical: b.cfg.TablePrefix + name}
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
	b.closed = true
	return nil
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
	if b.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.cfg.OperationTimeout)
}

func (b *Backend) tableExists(name string) (bool, error) {
	ctx, cancel := b.withOperationTimeout(context.Background())
	defer cancel()
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.cfg.TablePrefix + name)})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("describe table %s: %w", name, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

// IsThrottlingError reports whether err was caused by exceeded throughput or
// request rate limits.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded", "ProvisionedThroughputExceededException":
			return true
		}
	}
	return false
}

// rowKey returns the primary key of a row.
func rowKey(row []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{rowAttr: &types.AttributeValueMemberB{Value: row}}
}

// binaryAttr extracts the value of a binary attribute, nil if it is missing.
func binaryAttr(item map[string]types.AttributeValue, name string) []byte {
	v, ok := item[name].(*types.AttributeValueMemberB)
	if !ok {
		return nil
	}
	if v.Value == nil {
		return []byte{}
	}
	return v.Value
}

// backoff sleeps before the next retry of unprocessed items.
func backoff(attempt int) {
	time.Sleep(time.Duration(attempt*attempt) * 10 * time.Millisecond)
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

// CreateTable creates an on-demand table keyed by row and waits until it is active.
// Column families need no declaration, their storage policy does not apply to DynamoDB.
func (a *admin) CreateTable(desc table.TableDescriptor) error {
	if a.b.isClosed() {
		return table.ErrClosed
	}
	if desc.Name == "" {
		return fmt.Errorf("table name is required")
	}
	physical := a.b.cfg.TablePrefix + desc.Name

	ctx, cancel := a.b.withOperationTimeout(context.Background())
	defer cancel()
	_, err := a.b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(physical),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(rowAttr), AttributeType: types.ScalarAttributeTypeB},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(rowAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return fmt.Errorf("%w: %s", table.ErrTableExists, desc.Name)
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", desc.Name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(a.b.client)
	if err := waiter.Wait(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String(physical)}, a.b.cfg.CreateTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", desc.Name, err)
	}
	a.b.known.Store(desc.Name, struct{}{})

	log.Infof("created dynamodb table %s", physical)
	return nil
}

func (a *admin) Close() error {
	return nil
}
