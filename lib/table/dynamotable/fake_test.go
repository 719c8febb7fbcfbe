package dynamotable

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory stand-in for the subset of DynamoDB the backend uses.
// It understands exactly the expressions the backend generates.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue // table -> row -> attributes
	calls  map[string]int

	unprocessOnce bool // return the last key of the next batch request as unprocessed
	failWith      error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
		calls:  map[string]int{},
	}
}

func (f *fakeDynamo) notFound(name string) error {
	return &types.ResourceNotFoundException{Message: aws.String("table not found: " + name)}
}

func (f *fakeDynamo) call(op string) error {
	f.calls[op]++
	return f.failWith
}

func rowOf(key map[string]types.AttributeValue) string {
	return string(key[rowAttr].(*types.AttributeValueMemberB).Value)
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	c := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if b, ok := v.(*types.AttributeValueMemberB); ok {
			c[k] = &types.AttributeValueMemberB{Value: append([]byte{}, b.Value...)}
			continue
		}
		c[k] = v
	}
	return c
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetItem"); err != nil {
		return nil, err
	}
	t, ok := f.tables[*in.TableName]
	if !ok {
		return nil, f.notFound(*in.TableName)
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t[rowOf(in.Key)])}, nil
}

func (f *fakeDynamo) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("BatchGetItem"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for name, ka := range in.RequestItems {
		if len(ka.Keys) > maxBatchGet {
			return nil, fmt.Errorf("ValidationException: too many keys")
		}
		t, ok := f.tables[name]
		if !ok {
			return nil, f.notFound(name)
		}
		keys := ka.Keys
		if f.unprocessOnce && len(keys) > 1 {
			f.unprocessOnce = false
			unprocessed := ka
			unprocessed.Keys = keys[len(keys)-1:]
			out.UnprocessedKeys[name] = unprocessed
			keys = keys[:len(keys)-1]
		}
		seen := map[string]bool{}
		for _, key := range keys {
			row := rowOf(key)
			if seen[row] {
				return nil, fmt.Errorf("ValidationException: provided list of item keys contains duplicates")
			}
			seen[row] = true
			if item, ok := t[row]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(item))
			}
		}
	}
	return out, nil
}

// applyUpdate applies "SET #c0 = :v0, #c1 = :v1" style expressions.
func applyUpdate(t map[string]map[string]types.AttributeValue, key map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) {
	row := rowOf(key)
	item, ok := t[row]
	if !ok {
		item = copyItem(key)
		t[row] = item
	}
	for i := 0; ; i++ {
		name, ok := names["#c"+strconv.Itoa(i)]
		if !ok {
			return
		}
		item[name] = copyItem(map[string]types.AttributeValue{"v": values[":v"+strconv.Itoa(i)]})["v"]
	}
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateItem"); err != nil {
		return nil, err
	}
	t, ok := f.tables[*in.TableName]
	if !ok {
		return nil, f.notFound(*in.TableName)
	}
	applyUpdate(t, in.Key, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > maxTransactItems {
		return nil, fmt.Errorf("ValidationException: too many items")
	}
	seen := map[string]bool{}
	for _, item := range in.TransactItems {
		if _, ok := f.tables[*item.Update.TableName]; !ok {
			return nil, f.notFound(*item.Update.TableName)
		}
		row := rowOf(item.Update.Key)
		if seen[row] {
			return nil, fmt.Errorf("ValidationException: transaction contains the same item twice")
		}
		seen[row] = true
	}
	for _, item := range in.TransactItems {
		u := item.Update
		applyUpdate(f.tables[*u.TableName], u.Key, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteItem"); err != nil {
		return nil, err
	}
	t, ok := f.tables[*in.TableName]
	if !ok {
		return nil, f.notFound(*in.TableName)
	}
	delete(t, rowOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("BatchWriteItem"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for name, requests := range in.RequestItems {
		if len(requests) > maxBatchWrite {
			return nil, fmt.Errorf("ValidationException: too many requests")
		}
		t, ok := f.tables[name]
		if !ok {
			return nil, f.notFound(name)
		}
		if f.unprocessOnce && len(requests) > 1 {
			f.unprocessOnce = false
			out.UnprocessedItems[name] = requests[len(requests)-1:]
			requests = requests[:len(requests)-1]
		}
		for _, r := range requests {
			delete(t, rowOf(r.DeleteRequest.Key))
		}
	}
	return out, nil
}

// Scan evaluates Limit items in key order, then applies the attribute_exists filter.
func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("Scan"); err != nil {
		return nil, err
	}
	t, ok := f.tables[*in.TableName]
	if !ok {
		return nil, f.notFound(*in.TableName)
	}

	rows := make([]string, 0, len(t))
	for row := range t {
		rows = append(rows, row)
	}
	sort.Strings(rows)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := rowOf(in.ExclusiveStartKey)
		start = sort.SearchStrings(rows, after)
		if start < len(rows) && rows[start] == after {
			start++
		}
	}
	end := len(rows)
	if in.Limit != nil && start+int(*in.Limit) < end {
		end = start + int(*in.Limit)
	}

	column := in.ExpressionAttributeNames["#c"]
	out := &dynamodb.ScanOutput{}
	for _, row := range rows[start:end] {
		item := t[row]
		if _, ok := item[column]; !ok {
			continue
		}
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(rows) {
		out.LastEvaluatedKey = rowKey([]byte(rows[end-1]))
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DescribeTable"); err != nil {
		return nil, err
	}
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, f.notFound(*in.TableName)
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateTable"); err != nil {
		return nil, err
	}
	if _, ok := f.tables[*in.TableName]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists: " + *in.TableName)}
	}
	f.tables[*in.TableName] = map[string]map[string]types.AttributeValue{}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) ListTables(_ context.Context, _ *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListTables"); err != nil {
		return nil, err
	}
	out := &dynamodb.ListTablesOutput{}
	for name := range f.tables {
		out.TableNames = append(out.TableNames, name)
	}
	return out, nil
}
