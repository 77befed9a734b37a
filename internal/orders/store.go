package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

const (
	ReferenceIndex   = "gateway_reference-index"
	TransactionIndex = "gateway_transaction_id-index"
)

// Condition and update expressions issued by the store.
const (
	condOrderNotExists  = "attribute_not_exists(order_id)"
	condIdempNotExists  = "attribute_not_exists(idempotency_key)"
	condPaymentExpected = "payment_status = :expected"
	condPaymentAndStock = "payment_status = :expected AND stock_applied = :false"
	condReferenceFree   = "attribute_exists(order_id) AND (attribute_not_exists(gateway_reference) OR gateway_reference = :ref)"
	condTransactionFree = "attribute_exists(order_id) AND (attribute_not_exists(gateway_transaction_id) OR gateway_transaction_id = :tx)"
	condOrderExists     = "attribute_exists(order_id)"
)

// ErrStatusMismatch is returned by ApplyTransition when the stored payment
// status no longer equals the expected one.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// NotificationTarget selects which notificationState timestamp to stamp.
type NotificationTarget string

const (
	TargetAdmin    NotificationTarget = "admin_sent_at"
	TargetCustomer NotificationTarget = "customer_sent_at"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in the orders table (with ConditionExpression attribute_not_exists(order_id))
//
// The order total is checked before anything is written.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order) error {
	if err := order.CheckTotal(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}

	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}

	orderMap, err := s.marshalNew(order)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString(condIdempNotExists),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString(condOrderNotExists),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (likely idempotency key exists): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Create stores a new order without an idempotency record. Used by tooling and tests.
func (s *Store) Create(ctx context.Context, order Order) error {
	if err := order.CheckTotal(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	item, err := s.marshalNew(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condOrderNotExists),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrOrderExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *Store) marshalNew(order Order) (map[string]types.AttributeValue, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentPending
	}
	if order.Status == "" {
		order.Status = StatusCreated
	}
	order.StockApplied = false

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	// empty GSI keys must be absent, not empty strings
	if order.GatewayReference == "" {
		delete(item, "gateway_reference")
	}
	if order.GatewayTransactionID == "" {
		delete(item, "gateway_transaction_id")
	}
	return item, nil
}

// Get fetches an order by order_id with a strongly consistent read. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByReference resolves an order by gateway reference. References minted by
// ReferenceFor are resolved with a consistent read on the primary key; anything
// else goes through the reference index.
func (s *Store) GetByReference(ctx context.Context, reference string) (*Order, error) {
	if id, ok := strings.CutPrefix(reference, ReferencePrefix); ok && id != "" {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if o != nil && (o.GatewayReference == "" || o.GatewayReference == reference) {
			return o, nil
		}
	}
	return s.getByIndex(ctx, ReferenceIndex, "gateway_reference", reference)
}

// GetByTransactionID resolves an order by the gateway transaction id. The
// index is eventually consistent.
func (s *Store) GetByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	return s.getByIndex(ctx, TransactionIndex, "gateway_transaction_id", transactionID)
}

func (s *Store) getByIndex(ctx context.Context, index, attr, value string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                &index,
		KeyConditionExpression:   awsString("#k = :v"),
		ExpressionAttributeNames: map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: awsInt32(2),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	switch len(out.Items) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("query %s: %d orders share %s=%s", index, len(out.Items), attr, value)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// AssignReference sets the gateway reference once. Re-assigning the same value
// is a no-op; a different value returns ErrReferenceConflict.
func (s *Store) AssignReference(ctx context.Context, orderID, reference string) error {
	return s.setOnce(ctx, orderID, "gateway_reference", ":ref", reference, condReferenceFree, ErrReferenceConflict)
}

// AttachTransactionID records the gateway transaction id once.
func (s *Store) AttachTransactionID(ctx context.Context, orderID, transactionID string) error {
	return s.setOnce(ctx, orderID, "gateway_transaction_id", ":tx", transactionID, condTransactionFree, ErrTransactionConflict)
}

func (s *Store) setOnce(ctx context.Context, orderID, attr, placeholder, value, cond string, conflict error) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET " + attr + " = " + placeholder + ", updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			placeholder: &types.AttributeValueMemberS{Value: value},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString(cond),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			o, getErr := s.Get(ctx, orderID)
			if getErr != nil {
				return getErr
			}
			if o == nil {
				return ErrNotFound
			}
			return conflict
		}
		return fmt.Errorf("update %s: %w", attr, err)
	}
	return nil
}

// ApplyTransition persists plan with a single conditional update whose
// precondition is that payment_status still equals from. When the plan carries
// EffectDecrementStock the same update flips stock_applied false->true.
// It is the only write path for payment_status, order_status and stock_applied.
// Returns ErrStatusMismatch if the condition fails.
func (s *Store) ApplyTransition(ctx context.Context, orderID string, from PaymentStatus, plan Plan) error {
	now := s.nowFunc().UTC()

	updateExpr := "SET payment_status = :ps, order_status = :os, updated_at = :ua"
	cond := condPaymentExpected
	values := map[string]types.AttributeValue{
		":ps":       &types.AttributeValueMemberS{Value: string(plan.PaymentStatus)},
		":os":       &types.AttributeValueMemberS{Value: string(plan.Status)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":expected": &types.AttributeValueMemberS{Value: string(from)},
	}
	if plan.Has(EffectDecrementStock) {
		updateExpr += ", stock_applied = :true"
		cond = condPaymentAndStock
		values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
		values[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &updateExpr,
		ExpressionAttributeValues: values,
		ConditionExpression:       &cond,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// RecordNotificationSent stamps notification_state.<target>.
func (s *Store) RecordNotificationSent(ctx context.Context, orderID string, target NotificationTarget, at time.Time) error {
	return s.updateNotificationState(ctx, orderID, string(target), &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)})
}

// RecordNotificationError stamps notification_state.last_error.
func (s *Store) RecordNotificationError(ctx context.Context, orderID, msg string) error {
	return s.updateNotificationState(ctx, orderID, "last_error", &types.AttributeValueMemberS{Value: msg})
}

func (s *Store) updateNotificationState(ctx context.Context, orderID, field string, value types.AttributeValue) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET notification_state.#f = :v, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":  value,
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString(condOrderExists),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return fmt.Errorf("update notification state: %w", err)
	}
	return nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
