package dynamotable

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/table"
	tabletesting "github.com/ValentinKolb/dPersist/lib/table/testing"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func Test(t *testing.T) {
	tabletesting.RunTableTests(t, "DynamoTable", func(t *testing.T) table.IBackend {
		return NewWithClient(newFakeDynamo(), Config{TablePrefix: "test-"})
	})
}

var col = table.Column{Family: "data", Qualifier: "json"}

func newTestBackend(t *testing.T) (*Backend, *fakeDynamo, table.ITable) {
	t.Helper()
	fake := newFakeDynamo()
	b := NewWithClient(fake, Config{})
	admin, _ := b.Admin()
	if err := admin.CreateTable(table.TableDescriptor{Name: "users", Families: []table.FamilyDescriptor{table.DefaultFamily("data")}}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	h, err := b.OpenTable("users")
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	return b, fake, h
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty region")
	}
}

func TestPing_WhenClosed(t *testing.T) {
	b := NewWithClient(newFakeDynamo(), Config{})
	_ = b.Close()
	if err := b.Ping(context.Background()); !errors.Is(err, table.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTablePrefix(t *testing.T) {
	fake := newFakeDynamo()
	b := NewWithClient(fake, Config{TablePrefix: "prod-"})
	admin, _ := b.Admin()
	if err := admin.CreateTable(table.TableDescriptor{Name: "users"}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, ok := fake.tables["prod-users"]; !ok {
		t.Fatalf("expected physical table prod-users, got %v", fake.tables)
	}
	h, err := b.OpenTable("users")
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	if h.Name() != "users" {
		t.Errorf("expected logical name users, got %s", h.Name())
	}
}

func TestOpenTableCachesExistence(t *testing.T) {
	b, fake, _ := newTestBackend(t)
	before := fake.calls["DescribeTable"]
	for i := 0; i < 3; i++ {
		if _, err := b.OpenTable("users"); err != nil {
			t.Fatalf("OpenTable failed: %v", err)
		}
	}
	if fake.calls["DescribeTable"] != before {
		t.Errorf("expected no DescribeTable calls for a known table, got %d", fake.calls["DescribeTable"]-before)
	}
}

func TestDroppedTable(t *testing.T) {
	_, fake, h := newTestBackend(t)
	delete(fake.tables, "users")

	_, err := h.Get(table.Get{Row: []byte("1"), Column: col})
	if !errors.Is(err, table.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestServiceErrorsAreWrapped(t *testing.T) {
	_, fake, h := newTestBackend(t)
	boom := &types.InternalServerError{}
	fake.failWith = boom

	if _, err := h.Get(table.Get{Row: []byte("1"), Column: col}); !errors.As(err, &boom) {
		t.Errorf("expected wrapped service error, got %v", err)
	}
	if err := h.Put(table.Put{Row: []byte("1"), Column: col, Value: []byte("v")}); err == nil {
		t.Errorf("expected Put to fail")
	}
}

func TestIsThrottlingError(t *testing.T) {
	if IsThrottlingError(nil) {
		t.Fatal("nil error must return false")
	}
	if IsThrottlingError(errors.New("x")) {
		t.Fatal("generic error must return false")
	}
	if !IsThrottlingError(fmt.Errorf("wrapped: %w", &types.ProvisionedThroughputExceededException{})) {
		t.Fatal("expected throttling error to be detected")
	}
	if !IsThrottlingError(&smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"}) {
		t.Fatal("expected generic throttling api error to be detected")
	}
	if IsThrottlingError(&smithy.GenericAPIError{Code: "ValidationException"}) {
		t.Fatal("validation error must return false")
	}
}

func TestWithOperationTimeout_PreservesCallerDeadline(t *testing.T) {
	b := NewWithClient(newFakeDynamo(), Config{OperationTimeout: 2 * time.Second})
	parent, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := b.withOperationTimeout(parent)
	defer cancel()

	deadline, _ := ctx.Deadline()
	if remaining := time.Until(deadline); remaining > 200*time.Millisecond {
		t.Fatalf("expected caller deadline to be preserved, got %v", remaining)
	}
}

func TestMultiPutUsesTransactions(t *testing.T) {
	_, fake, h := newTestBackend(t)

	puts := make([]table.Put, 0, 250)
	for i := 0; i < 250; i++ {
		puts = append(puts, table.Put{Row: []byte(fmt.Sprintf("row-%03d", i)), Column: col, Value: []byte("v")})
	}
	// a second put to the same row is merged into the first update
	puts = append(puts, table.Put{Row: []byte("row-000"), Column: col, Value: []byte("last")})

	if err := h.MultiPut(puts); err != nil {
		t.Fatalf("MultiPut failed: %v", err)
	}
	if fake.calls["TransactWriteItems"] != 3 {
		t.Errorf("expected 3 transactions for 250 rows, got %d", fake.calls["TransactWriteItems"])
	}
	r, _ := h.Get(table.Get{Row: []byte("row-000"), Column: col})
	if string(r.Value) != "last" {
		t.Errorf("expected last write to win, got %q", r.Value)
	}
}

func TestSinglePutUsesUpdateItem(t *testing.T) {
	_, fake, h := newTestBackend(t)

	other := table.Column{Family: "data", Qualifier: "other"}
	_ = h.Put(table.Put{Row: []byte("1"), Column: col, Value: []byte("a")})
	_ = h.Put(table.Put{Row: []byte("1"), Column: other, Value: []byte("b")})
	if fake.calls["UpdateItem"] != 2 {
		t.Errorf("expected 2 UpdateItem calls, got %d", fake.calls["UpdateItem"])
	}

	// updating one column keeps the others
	r, _ := h.Get(table.Get{Row: []byte("1"), Column: col})
	if string(r.Value) != "a" {
		t.Errorf("expected a, got %q", r.Value)
	}
}

func TestMultiGetRetriesUnprocessedKeys(t *testing.T) {
	_, fake, h := newTestBackend(t)
	for i := 0; i < 150; i++ {
		_ = h.Put(table.Put{Row: []byte(fmt.Sprintf("row-%d", i)), Column: col, Value: []byte(fmt.Sprintf("v%d", i))})
	}

	gets := make([]table.Get, 0, 151)
	for i := 0; i < 150; i++ {
		gets = append(gets, table.Get{Row: []byte(fmt.Sprintf("row-%d", i)), Column: col})
	}
	gets = append(gets, table.Get{Row: []byte("row-0"), Column: col}) // duplicate

	fake.unprocessOnce = true
	rows, err := h.MultiGet(gets)
	if err != nil {
		t.Fatalf("MultiGet failed: %v", err)
	}
	// 2 chunks + 1 retry
	if fake.calls["BatchGetItem"] != 3 {
		t.Errorf("expected 3 BatchGetItem calls, got %d", fake.calls["BatchGetItem"])
	}
	for i, row := range rows[:150] {
		if string(row.Value) != fmt.Sprintf("v%d", i) {
			t.Errorf("row %d: expected v%d, got %q", i, i, row.Value)
		}
	}
	if string(rows[150].Value) != "v0" {
		t.Errorf("expected duplicate get to be answered, got %q", rows[150].Value)
	}
}

func TestMultiDeleteRetriesUnprocessedItems(t *testing.T) {
	_, fake, h := newTestBackend(t)
	deletes := make([]table.Delete, 0, 30)
	for i := 0; i < 30; i++ {
		row := []byte(fmt.Sprintf("row-%d", i))
		_ = h.Put(table.Put{Row: row, Column: col, Value: []byte("v")})
		deletes = append(deletes, table.Delete{Row: row})
	}

	fake.unprocessOnce = true
	if err := h.MultiDelete(deletes); err != nil {
		t.Fatalf("MultiDelete failed: %v", err)
	}
	if len(fake.tables["users"]) != 0 {
		t.Errorf("expected all rows to be deleted, %d left", len(fake.tables["users"]))
	}
	if fake.calls["BatchWriteItem"] != 3 {
		t.Errorf("expected 3 BatchWriteItem calls (2 chunks + 1 retry), got %d", fake.calls["BatchWriteItem"])
	}
}

// groupByRow must produce one update per distinct row that sets every distinct column once.
func TestProperty_GroupByRow(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("one update per row, one placeholder per column", prop.ForAll(
		func(rows []uint8, qualifiers []uint8) bool {
			n := min(len(rows), len(qualifiers))
			puts := make([]table.Put, 0, n)
			distinctRows := map[uint8]bool{}
			cells := map[string]bool{}
			for i := 0; i < n; i++ {
				row, q := rows[i]%8, qualifiers[i]%3
				distinctRows[row] = true
				cells[fmt.Sprintf("%d/%d", row, q)] = true
				puts = append(puts, table.Put{
					Row:    []byte{row},
					Column: table.Column{Family: "data", Qualifier: fmt.Sprint(q)},
					Value:  []byte{byte(i)},
				})
			}
			updates := groupByRow(puts)
			if len(updates) != len(distinctRows) {
				return false
			}
			total := 0
			for _, u := range updates {
				if len(u.names) != len(u.values) {
					return false
				}
				total += len(u.names)
			}
			return total == len(cells)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
