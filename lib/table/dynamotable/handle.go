package dynamotable

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// handle is a table.ITable backed by one DynamoDB table.
type handle struct {
	b        *Backend
	name     string
	physical string
	buf      *table.WriteBuffer
	closed   bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see table.ITable)
// --------------------------------------------------------------------------

func (h *handle) Name() string {
	return h.name
}

func (h *handle) Get(g table.Get) (table.Row, error) {
	if h.closed {
		return table.Row{}, table.ErrClosed
	}
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()

	out, err := h.b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(h.physical),
		Key:                      rowKey(g.Row),
		ProjectionExpression:     aws.String("#c"),
		ExpressionAttributeNames: map[string]string{"#c": g.Column.String()},
		ConsistentRead:           aws.Bool(h.b.cfg.ConsistentRead),
	})
	if err != nil {
		return table.Row{}, h.wrap("get", err)
	}
	return table.Row{Key: g.Row, Value: binaryAttr(out.Item, g.Column.String())}, nil
}

// MultiGet issues BatchGetItem requests of at most 100 distinct rows and
// retries unprocessed keys.
func (h *handle) MultiGet(gets []table.Get) ([]table.Row, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	rows := make([]table.Row, len(gets))
	if len(gets) == 0 {
		return rows, nil
	}

	// one item per distinct row, the projection covers all requested columns
	names := map[string]string{}
	columns := map[string]string{} // column -> placeholder
	var keys []map[string]types.AttributeValue
	seen := map[string]struct{}{}
	for _, g := range gets {
		col := g.Column.String()
		if _, ok := columns[col]; !ok {
			placeholder := "#c" + strconv.Itoa(len(columns))
			columns[col] = placeholder
			names[placeholder] = col
		}
		if _, ok := seen[string(g.Row)]; ok {
			continue
		}
		seen[string(g.Row)] = struct{}{}
		keys = append(keys, rowKey(g.Row))
	}
	projection := ""
	for _, placeholder := range columns {
		if projection != "" {
			projection += ", "
		}
		projection += placeholder
	}
	names["#r"] = rowAttr
	projection += ", #r"

	items := make(map[string]map[string]types.AttributeValue, len(keys))
	for start := 0; start < len(keys); start += maxBatchGet {
		end := min(start+maxBatchGet, len(keys))
		request := map[string]types.KeysAndAttributes{
			h.physical: {
				Keys:                     keys[start:end],
				ProjectionExpression:     aws.String(projection),
				ExpressionAttributeNames: names,
				ConsistentRead:           aws.Bool(h.b.cfg.ConsistentRead),
			},
		}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt >= maxRetries {
				return nil, fmt.Errorf("table %s: %d keys still unprocessed after %d attempts", h.name, len(request[h.physical].Keys), attempt)
			}
			if attempt > 0 {
				backoff(attempt)
			}
			out, err := h.batchGet(request)
			if err != nil {
				return nil, h.wrap("batch get", err)
			}
			for _, item := range out.Responses[h.physical] {
				items[string(binaryAttr(item, rowAttr))] = item
			}
			request = out.UnprocessedKeys
		}
	}

	for i, g := range gets {
		rows[i] = table.Row{Key: g.Row, Value: binaryAttr(items[string(g.Row)], g.Column.String())}
	}
	return rows, nil
}

func (h *handle) batchGet(request map[string]types.KeysAndAttributes) (*dynamodb.BatchGetItemOutput, error) {
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()
	return h.b.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
}

// Scan walks the table with a scan paginator. DynamoDB scans are not ordered,
// so StartRow is ignored.
func (h *handle) Scan(s table.Scan) (table.IScanner, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	input := &dynamodb.ScanInput{
		TableName:                aws.String(h.physical),
		ProjectionExpression:     aws.String("#r, #c"),
		FilterExpression:         aws.String("attribute_exists(#c)"),
		ExpressionAttributeNames: map[string]string{"#r": rowAttr, "#c": s.Column.String()},
		ConsistentRead:           aws.Bool(h.b.cfg.ConsistentRead),
	}
	if s.Caching > 0 {
		input.Limit = aws.Int32(int32(s.Caching))
	}
	return &scanner{
		h:         h,
		column:    s.Column.String(),
		paginator: dynamodb.NewScanPaginator(h.b.client, input),
	}, nil
}

func (h *handle) Put(p table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(p)
}

func (h *handle) MultiPut(puts []table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(puts...)
}

func (h *handle) Delete(d table.Delete) error {
	if h.closed {
		return table.ErrClosed
	}
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()
	_, err := h.b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(h.physical),
		Key:       rowKey(d.Row),
	})
	return h.wrap("delete", err)
}

// MultiDelete issues BatchWriteItem requests of at most 25 distinct rows and
// retries unprocessed items.
func (h *handle) MultiDelete(deletes []table.Delete) error {
	if h.closed {
		return table.ErrClosed
	}
	var requests []types.WriteRequest
	seen := map[string]struct{}{}
	for _, d := range deletes {
		if _, ok := seen[string(d.Row)]; ok {
			continue
		}
		seen[string(d.Row)] = struct{}{}
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: rowKey(d.Row)}})
	}

	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))
		pending := map[string][]types.WriteRequest{h.physical: requests[start:end]}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= maxRetries {
				return fmt.Errorf("table %s: %d deletes still unprocessed after %d attempts", h.name, len(pending[h.physical]), attempt)
			}
			if attempt > 0 {
				backoff(attempt)
			}
			out, err := h.batchWrite(pending)
			if err != nil {
				return h.wrap("batch delete", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (h *handle) batchWrite(request map[string][]types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error) {
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()
	return h.b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: request})
}

func (h *handle) SetAutoFlush(enabled bool) {
	h.buf.SetAutoFlush(enabled)
}

func (h *handle) Flush() error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Flush()
}

func (h *handle) Close() error {
	h.buf.Discard()
	h.closed = true
	return nil
}

// --------------------------------------------------------------------------
// Write Path
// --------------------------------------------------------------------------

// apply sends a batch of puts. A single put is an UpdateItem, larger batches
// are grouped by row and sent as TransactWriteItems of at most 100 rows, each
// transaction is applied atomically.
func (h *handle) apply(puts []table.Put) error {
	updates := groupByRow(puts)
	if len(updates) == 1 {
		ctx, cancel := h.b.withOperationTimeout(context.Background())
		defer cancel()
		u := updates[0]
		_, err := h.b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(h.physical),
			Key:                       rowKey(u.row),
			UpdateExpression:          aws.String(u.expression),
			ExpressionAttributeNames:  u.names,
			ExpressionAttributeValues: u.values,
		})
		return h.wrap("put", err)
	}

	for start := 0; start < len(updates); start += maxTransactItems {
		end := min(start+maxTransactItems, len(updates))
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, u := range updates[start:end] {
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 aws.String(h.physical),
				Key:                       rowKey(u.row),
				UpdateExpression:          aws.String(u.expression),
				ExpressionAttributeNames:  u.names,
				ExpressionAttributeValues: u.values,
			}})
		}
		if err := h.transactWrite(items); err != nil {
			return h.wrap("batch put", err)
		}
	}
	return nil
}

func (h *handle) transactWrite(items []types.TransactWriteItem) error {
	ctx, cancel := h.b.withOperationTimeout(context.Background())
	defer cancel()
	_, err := h.b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// rowUpdate is the SET expression for all puts to one row.
type rowUpdate struct {
	row        []byte
	expression string
	names      map[string]string
	values     map[string]types.AttributeValue
	index      map[string]int // column -> placeholder index
}

// groupByRow merges puts to the same row into one update, later puts to the
// same cell win. The order of first appearance is kept.
func groupByRow(puts []table.Put) []*rowUpdate {
	var updates []*rowUpdate
	byRow := map[string]*rowUpdate{}
	for _, p := range puts {
		u, ok := byRow[string(p.Row)]
		if !ok {
			u = &rowUpdate{
				row:    p.Row,
				names:  map[string]string{},
				values: map[string]types.AttributeValue{},
				index:  map[string]int{},
			}
			byRow[string(p.Row)] = u
			updates = append(updates, u)
		}
		col := p.Column.String()
		i, ok := u.index[col]
		if !ok {
			i = len(u.index)
			u.index[col] = i
			u.names["#c"+strconv.Itoa(i)] = col
		}
		value := p.Value
		if value == nil {
			value = []byte{}
		}
		u.values[":v"+strconv.Itoa(i)] = &types.AttributeValueMemberB{Value: value}
	}
	for _, u := range updates {
		u.expression = "SET "
		for i := 0; i < len(u.index); i++ {
			if i > 0 {
				u.expression += ", "
			}
			u.expression += "#c" + strconv.Itoa(i) + " = :v" + strconv.Itoa(i)
		}
	}
	return updates
}

// wrap maps a missing table to table.ErrTableNotFound and adds context.
func (h *handle) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		h.b.known.Delete(h.name)
		return table.NotFound(h.name)
	}
	return fmt.Errorf("table %s: %s: %w", h.name, op, err)
}

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

// scanner streams the pages of a scan paginator, one request per page.
type scanner struct {
	h         *handle
	column    string
	paginator *dynamodb.ScanPaginator
	page      []map[string]types.AttributeValue
	pos       int
	closed    bool
}

func (s *scanner) Next() (table.Row, bool, error) {
	for s.pos >= len(s.page) {
		if s.closed || !s.paginator.HasMorePages() {
			return table.Row{}, false, nil
		}
		if s.h.closed {
			return table.Row{}, false, table.ErrClosed
		}
		out, err := s.nextPage()
		if err != nil {
			return table.Row{}, false, s.h.wrap("scan", err)
		}
		s.page = out.Items
		s.pos = 0
	}
	item := s.page[s.pos]
	s.pos++
	return table.Row{Key: binaryAttr(item, rowAttr), Value: binaryAttr(item, s.column)}, true, nil
}

func (s *scanner) nextPage() (*dynamodb.ScanOutput, error) {
	ctx, cancel := s.h.b.withOperationTimeout(context.Background())
	defer cancel()
	return s.paginator.NextPage(ctx)
}

func (s *scanner) Close() error {
	s.closed = true
	s.page = nil
	return nil
}
