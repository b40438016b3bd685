package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Item is a raw DynamoDB item or key.
type Item = map[string]types.AttributeValue

var (
	ErrNotFound           = errors.New("item not found")
	ErrConditionFailed    = errors.New("conditional update failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	maxBatchSize = 25
	maxAttempts  = 5
	baseBackoff  = 200 * time.Millisecond
)

// DynamoAPI is the subset of the DynamoDB client the adapter uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store wraps DynamoDB with single-partition operations. Queries follow
// truncation markers internally; batch deletes chunk and retry unprocessed
// keys. The client is safe for concurrent use.
type Store struct {
	client DynamoAPI
	sleep  func(time.Duration)
}

func New(client DynamoAPI) *Store {
	return &Store{client: client, sleep: time.Sleep}
}

// Query describes a single-partition range read. Partition and Sort name the
// key attributes of the table or index being queried.
type Query struct {
	Table        string
	Index        string
	Partition    string
	PartitionVal string
	Sort         string
	SortPrefix   string
	SortFrom     string
	SortTo       string
	Descending   bool
	Limit        int32
	StartKey     Item
	// Server-side filters, applied after the key condition.
	NotExists string
	Equals    map[string]string

	countOnly bool
}

func (s *Store) Get(ctx context.Context, table string, key Item) (Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &table,
		Key:       key,
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

func (s *Store) Put(ctx context.Context, table string, item Item) error {
	return s.retryWrite(ctx, func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &table,
			Item:      item,
		})
		return err
	})
}

func (s *Store) Delete(ctx context.Context, table string, key Item) error {
	return s.retryWrite(ctx, func(ctx context.Context) error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &table,
			Key:       key,
		})
		return err
	})
}

// Update applies SET deltas to one item and returns the updated item.
func (s *Store) Update(ctx context.Context, table string, key Item, sets Item) (Item, error) {
	upd := expression.UpdateBuilder{}
	for name, value := range sets {
		upd = upd.Set(expression.Name(name), expression.Value(value))
	}
	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return nil, fmt.Errorf("build update expression: %w", err)
	}

	var updated Item
	err = s.retryWrite(ctx, func(ctx context.Context) error {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &table,
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			return err
		}
		updated = out.Attributes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateWhenNot applies SET deltas only while attr exists on the item and
// differs from forbidden. A missing item or a matching attr returns
// ErrConditionFailed without writing, so concurrent callers cannot both win.
func (s *Store) UpdateWhenNot(ctx context.Context, table string, key Item, sets Item, attr, forbidden string) (Item, error) {
	upd := expression.UpdateBuilder{}
	for name, value := range sets {
		upd = upd.Set(expression.Name(name), expression.Value(value))
	}
	cond := expression.AttributeExists(expression.Name(attr)).
		And(expression.Name(attr).NotEqual(expression.Value(forbidden)))
	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build guarded update expression: %w", err)
	}

	var updated Item
	err = s.retryWrite(ctx, func(ctx context.Context) error {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &table,
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			return err
		}
		updated = out.Attributes
		return nil
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return updated, nil
}

// Increment adds 1 to attr, but only while attr is still below capAttr on the
// same item. Safe under concurrent callers; a failed condition returns
// ErrConditionFailed.
func (s *Store) Increment(ctx context.Context, table string, key Item, attr, capAttr string) (Item, error) {
	upd := expression.Add(expression.Name(attr), expression.Value(1))
	cond := expression.Name(attr).LessThan(expression.Name(capAttr))
	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build increment expression: %w", err)
	}

	var updated Item
	err = s.retryWrite(ctx, func(ctx context.Context) error {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &table,
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			return err
		}
		updated = out.Attributes
		return nil
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return updated, nil
}

// QueryPage returns up to q.Limit items plus a continuation key. The store may
// truncate any single response, so pages are re-requested until the caller's
// limit is satisfied or the range is exhausted.
func (s *Store) QueryPage(ctx context.Context, q Query) ([]Item, Item, error) {
	var items []Item
	start := q.StartKey
	for {
		remaining := int32(0)
		if q.Limit > 0 {
			remaining = q.Limit - int32(len(items))
		}
		out, err := s.queryOnce(ctx, q, start, remaining)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, out.Items...)
		start = out.LastEvaluatedKey
		if start == nil || (q.Limit > 0 && int32(len(items)) >= q.Limit) {
			return items, start, nil
		}
	}
}

// QueryAll follows the range to exhaustion.
func (s *Store) QueryAll(ctx context.Context, q Query) ([]Item, error) {
	q.Limit = 0
	items, _, err := s.QueryPage(ctx, q)
	return items, err
}

// QueryCount counts matching items without transferring their bodies.
func (s *Store) QueryCount(ctx context.Context, q Query) (int, error) {
	total := 0
	var start Item
	for {
		out, err := s.queryOnce(ctx, countQuery(q), start, 0)
		if err != nil {
			return 0, err
		}
		total += int(out.Count)
		start = out.LastEvaluatedKey
		if start == nil {
			return total, nil
		}
	}
}

func countQuery(q Query) Query {
	q.Limit = 0
	q.countOnly = true
	return q
}

func (s *Store) queryOnce(ctx context.Context, q Query, start Item, limit int32) (*dynamodb.QueryOutput, error) {
	keyCond := expression.Key(q.Partition).Equal(expression.Value(q.PartitionVal))
	switch {
	case q.SortPrefix != "":
		keyCond = keyCond.And(expression.Key(q.Sort).BeginsWith(q.SortPrefix))
	case q.SortFrom != "" || q.SortTo != "":
		keyCond = keyCond.And(expression.Key(q.Sort).Between(
			expression.Value(q.SortFrom), expression.Value(q.SortTo)))
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	hasFilter := false
	var filter expression.ConditionBuilder
	if q.NotExists != "" {
		filter = expression.AttributeNotExists(expression.Name(q.NotExists))
		hasFilter = true
	}
	for name, value := range q.Equals {
		cond := expression.Name(name).Equal(expression.Value(value))
		if hasFilter {
			filter = filter.And(cond)
		} else {
			filter = cond
			hasFilter = true
		}
	}
	if hasFilter {
		builder = builder.WithFilter(filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	in := &dynamodb.QueryInput{
		TableName:                 &q.Table,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          boolPtr(!q.Descending),
		ExclusiveStartKey:         start,
	}
	if q.Index != "" {
		in.IndexName = &q.Index
	}
	if limit > 0 {
		in.Limit = &limit
	}
	if q.countOnly {
		in.Select = types.SelectCount
	}

	var out *dynamodb.QueryOutput
	err = s.retryWrite(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.client.Query(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchDelete removes keys in chunks, retrying any the store reports back as
// unprocessed. It returns an error naming the keys that could not be removed
// after all attempts.
func (s *Store) BatchDelete(ctx context.Context, table string, keys []Item) error {
	for start := 0; start < len(keys); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.deleteChunk(ctx, table, keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteChunk(ctx context.Context, table string, keys []Item) error {
	pending := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		pending = append(pending, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(backoff(attempt))
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		if err != nil {
			if isThrottle(err) {
				continue
			}
			return s.wrap("batch delete", err)
		}
		pending = out.UnprocessedItems[table]
		if len(pending) == 0 {
			return nil
		}
	}
	return fmt.Errorf("batch delete: %d keys unprocessed after %d attempts: %w",
		len(pending), maxAttempts, ErrStorageUnavailable)
}

func (s *Store) retryWrite(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(backoff(attempt))
		}
		err = op(ctx)
		if err == nil || !isThrottle(err) {
			return err
		}
	}
	return fmt.Errorf("retries exhausted: %v: %w", err, ErrStorageUnavailable)
}

func backoff(attempt int) time.Duration {
	return baseBackoff * time.Duration(1<<(attempt-1))
}

func isThrottle(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return true
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded":
			return true
		}
	}
	return false
}

func (s *Store) wrap(op string, err error) error {
	if isThrottle(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func boolPtr(b bool) *bool { return &b }
