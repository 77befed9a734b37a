// Package dynamotest provides an in-memory DynamoDB used by store tests.
//
// It understands the subset of the expression language the stores issue:
// comparisons, AND/OR/NOT, parentheses, attribute_exists/attribute_not_exists,
// SET with + and - arithmetic and if_not_exists, and REMOVE. Calls are
// serialized by a single mutex, which makes every operation linearizable.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = map[string]types.AttributeValue

type index struct {
	hash  string
	rng   string
	table string
}

type table struct {
	hashKey string
	items   map[string]Item
}

// DB is a fake satisfying the DynamoDB client methods used by the stores.
type DB struct {
	mu      sync.Mutex
	tables  map[string]*table
	indexes map[string]index

	// Hook runs before every call with the operation name. A non-nil error is
	// returned to the caller and the call is not performed.
	Hook func(op string) error

	calls map[string]int
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		tables:  map[string]*table{},
		indexes: map[string]index{},
		calls:   map[string]int{},
	}
}

// CreateTable registers a table keyed by a single hash attribute.
func (db *DB) CreateTable(name, hashKey string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[name] = &table{hashKey: hashKey, items: map[string]Item{}}
	return db
}

// AddIndex registers a sparse secondary index. rangeKey may be empty.
func (db *DB) AddIndex(tableName, indexName, hashKey, rangeKey string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.indexes[tableName+"/"+indexName] = index{hash: hashKey, rng: rangeKey, table: tableName}
	return db
}

// Seed writes item unconditionally.
func (db *DB) Seed(tableName string, item Item) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[tableName]
	k, err := keyString(item[t.hashKey])
	if err != nil {
		panic(err)
	}
	t.items[k] = cloneItem(item)
}

// Get returns a copy of the stored item, or nil.
func (db *DB) Get(tableName, key string) Item {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[key]
	if !ok {
		return nil
	}
	return cloneItem(it)
}

// Len returns the number of items in a table.
func (db *DB) Len(tableName string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// Calls returns how many times op was invoked.
func (db *DB) Calls(op string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

func (db *DB) enter(op string) error {
	db.mu.Lock()
	db.calls[op]++
	hook := db.Hook
	db.mu.Unlock()
	if hook != nil {
		return hook(op)
	}
	return nil
}

func (db *DB) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("dynamotest: missing table name")
	}
	t, ok := db.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: name}
	}
	return t, nil
}

func (db *DB) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	if err := db.enter("PutItem"); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(in.Item[t.hashKey])
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = cloneItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (db *DB) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	if err := db.enter("GetItem"); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(in.Key[t.hashKey])
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(it)}, nil
}

func (db *DB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := db.enter("UpdateItem"); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(in.Key[t.hashKey])
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next, err := applyUpdate(in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current, in.Key)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = cloneItem(next)
	}
	return out, nil
}

func (db *DB) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if err := db.enter("Query"); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	idx := index{hash: t.hashKey}
	if in.IndexName != nil {
		var ok bool
		idx, ok = db.indexes[*in.TableName+"/"+*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %s", *in.IndexName)
		}
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matched []Item
	for _, k := range keys {
		it := t.items[k]
		if _, ok := it[idx.hash]; !ok {
			continue
		}
		if idx.rng != "" {
			if _, ok := it[idx.rng]; !ok {
				continue
			}
		}
		ok, err := evalCondition(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, cloneItem(it))
		}
	}
	if idx.rng != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return compareValues(matched[i][idx.rng], matched[j][idx.rng]) < 0
		})
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: matched, Count: int32(len(matched))}, nil
}

func (db *DB) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if err := db.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		ok, err := db.checkTransactItem(ti)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: &code}
	}
	if failed {
		msg := "Transaction cancelled, please refer cancellation reasons for specific reasons"
		return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			t, _ := db.table(ti.Put.TableName)
			k, _ := keyString(ti.Put.Item[t.hashKey])
			t.items[k] = cloneItem(ti.Put.Item)
		case ti.Update != nil:
			t, _ := db.table(ti.Update.TableName)
			k, _ := keyString(ti.Update.Key[t.hashKey])
			next, err := applyUpdate(ti.Update.UpdateExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, t.items[k], ti.Update.Key)
			if err != nil {
				return nil, err
			}
			t.items[k] = next
		case ti.Delete != nil:
			t, _ := db.table(ti.Delete.TableName)
			k, _ := keyString(ti.Delete.Key[t.hashKey])
			delete(t.items, k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (db *DB) checkTransactItem(ti types.TransactWriteItem) (bool, error) {
	var (
		tableName *string
		key       types.AttributeValue
		cond      *string
		names     map[string]string
		values    map[string]types.AttributeValue
	)
	switch {
	case ti.Put != nil:
		tableName, cond, names, values = ti.Put.TableName, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		t, err := db.table(tableName)
		if err != nil {
			return false, err
		}
		key = ti.Put.Item[t.hashKey]
	case ti.Update != nil:
		tableName, cond, names, values = ti.Update.TableName, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		t, err := db.table(tableName)
		if err != nil {
			return false, err
		}
		key = ti.Update.Key[t.hashKey]
	case ti.Delete != nil:
		tableName, cond, names, values = ti.Delete.TableName, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		t, err := db.table(tableName)
		if err != nil {
			return false, err
		}
		key = ti.Delete.Key[t.hashKey]
	case ti.ConditionCheck != nil:
		tableName, cond, names, values = ti.ConditionCheck.TableName, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		t, err := db.table(tableName)
		if err != nil {
			return false, err
		}
		key = ti.ConditionCheck.Key[t.hashKey]
	default:
		return false, errors.New("dynamotest: empty transact item")
	}
	t, _ := db.table(tableName)
	k, err := keyString(key)
	if err != nil {
		return false, err
	}
	return evalCondition(cond, names, values, t.items[k])
}

func conditionFailed() error {
	msg := "The conditional request failed"
	return &types.ConditionalCheckFailedException{Message: &msg}
}

func keyString(v types.AttributeValue) (string, error) {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		return tv.Value, nil
	default:
		return "", fmt.Errorf("dynamotest: unsupported key value %T", v)
	}
}

func cloneItem(it Item) Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(tv.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(tv.Value))
		for i, x := range tv.Value {
			l[i] = cloneValue(x)
		}
		return &types.AttributeValueMemberL{Value: l}
	default:
		return v
	}
}
