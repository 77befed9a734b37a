package orders

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-reconciler/internal/dynamotest"
)

const (
	ordersTable = "orders"
	idempTable  = "idempotency"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.DB) {
	t.Helper()
	db := dynamotest.New().
		CreateTable(ordersTable, "order_id").
		AddIndex(ordersTable, ReferenceIndex, "gateway_reference", "").
		AddIndex(ordersTable, TransactionIndex, "gateway_transaction_id", "").
		CreateTable(idempTable, "idempotency_key")
	s := NewStore(db, ordersTable)
	s.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, db
}

func sampleOrder(id string) Order {
	return Order{
		OrderID: id,
		Items: []Item{
			{ReferenceID: "prod-1", Kind: KindProduct, Quantity: 2, UnitPrice: MustMoney("10.50")},
			{ReferenceID: "combo-1", Kind: KindCombo, Quantity: 1, UnitPrice: MustMoney("5")},
		},
		Discount:    MustMoney("1"),
		TotalAmount: MustMoney("25"),
		Currency:    "COP",
		Customer:    Customer{FullName: "Ana Ruiz", Email: "ana@example.com"},
		Shipping:    Shipping{AddressLine1: "Calle 1", City: "Bogota", Region: "DC", Country: "CO"},
	}
}

func TestCreateWithIdempotencyTransaction_Success(t *testing.T) {
	s, db := newTestStore(t)

	idemp := map[string]interface{}{
		"idempotency_key": "key-1",
		"status":          "DONE",
	}
	err := s.CreateWithIdempotencyTransaction(context.Background(), idempTable, idemp, sampleOrder("order-1"))
	require.NoError(t, err)

	require.NotNil(t, db.Get(idempTable, "key-1"))
	got, err := s.Get(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
	assert.Equal(t, StatusCreated, got.Status)
	assert.False(t, got.StockApplied)
	assert.True(t, got.TotalAmount.Equal(MustMoney("25.00")))
	assert.Len(t, got.Items, 2)
	assert.True(t, s.nowFunc().Equal(got.CreatedAt))
}

func TestCreateWithIdempotencyTransaction_ExistingKeyFails(t *testing.T) {
	s, db := newTestStore(t)
	db.Seed(idempTable, map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: "key-2"},
		"status":          &types.AttributeValueMemberS{Value: "DONE"},
	})

	err := s.CreateWithIdempotencyTransaction(context.Background(), idempTable, map[string]interface{}{"idempotency_key": "key-2"}, sampleOrder("order-2"))
	require.Error(t, err)
	var tce *types.TransactionCanceledException
	assert.ErrorAs(t, err, &tce)
	assert.Equal(t, 0, db.Len(ordersTable))
}

func TestCreate_RejectsBadTotalAndDuplicates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	bad := sampleOrder("order-3")
	bad.TotalAmount = MustMoney("26")
	require.Error(t, s.Create(ctx, bad))

	require.NoError(t, s.Create(ctx, sampleOrder("order-3")))
	assert.ErrorIs(t, s.Create(ctx, sampleOrder("order-3")), ErrOrderExists)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByReference(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("order-4")))

	// derived reference resolves before any assignment
	got, err := s.GetByReference(ctx, ReferenceFor("order-4"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-4", got.OrderID)

	// references that were not minted by ReferenceFor go through the index
	legacy := sampleOrder("order-5")
	legacy.GatewayReference = "LEGACY-5"
	item, err := attributevalue.MarshalMap(legacy)
	require.NoError(t, err)
	db.Seed(ordersTable, item)

	got, err = s.GetByReference(ctx, "LEGACY-5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-5", got.OrderID)

	got, err = s.GetByReference(ctx, "ORDER_nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAssignReference(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("order-6")))

	require.NoError(t, s.AssignReference(ctx, "order-6", "ORDER_order-6"))
	require.NoError(t, s.AssignReference(ctx, "order-6", "ORDER_order-6"))
	assert.ErrorIs(t, s.AssignReference(ctx, "order-6", "ORDER_other"), ErrReferenceConflict)
	assert.ErrorIs(t, s.AssignReference(ctx, "nope", "ORDER_nope"), ErrNotFound)

	got, err := s.Get(ctx, "order-6")
	require.NoError(t, err)
	assert.Equal(t, "ORDER_order-6", got.GatewayReference)
}

func TestAttachTransactionID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("order-7")))

	require.NoError(t, s.AttachTransactionID(ctx, "order-7", "tx-7"))
	require.NoError(t, s.AttachTransactionID(ctx, "order-7", "tx-7"))
	assert.ErrorIs(t, s.AttachTransactionID(ctx, "order-7", "tx-8"), ErrTransactionConflict)

	got, err := s.GetByTransactionID(ctx, "tx-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-7", got.OrderID)

	got, err = s.GetByTransactionID(ctx, "tx-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyTransition_Conditional(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("order-8")))

	plan := Transition(PaymentPending, StatusCreated, GatewayApproved)
	require.NoError(t, s.ApplyTransition(ctx, "order-8", PaymentPending, plan))

	got, err := s.Get(ctx, "order-8")
	require.NoError(t, err)
	assert.Equal(t, PaymentApproved, got.PaymentStatus)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.True(t, got.StockApplied)

	// the second writer observed pending too and loses
	err = s.ApplyTransition(ctx, "order-8", PaymentPending, plan)
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestApplyTransition_StockAppliedGuard(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("order-9")
	o.PaymentStatus = PaymentPending
	o.Status = StatusCreated
	o.StockApplied = true
	item, err := attributevalue.MarshalMap(o)
	require.NoError(t, err)
	db.Seed(ordersTable, item)

	plan := Transition(PaymentPending, StatusCreated, GatewayApproved)
	assert.ErrorIs(t, s.ApplyTransition(ctx, "order-9", PaymentPending, plan), ErrStatusMismatch)

	// declines do not touch stock_applied
	decline := Transition(PaymentPending, StatusCreated, GatewayDeclined)
	require.NoError(t, s.ApplyTransition(ctx, "order-9", PaymentPending, decline))
	got, err := s.Get(ctx, "order-9")
	require.NoError(t, err)
	assert.Equal(t, PaymentDeclined, got.PaymentStatus)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestRecordNotification(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("order-10")))

	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordNotificationSent(ctx, "order-10", TargetAdmin, at))
	require.NoError(t, s.RecordNotificationError(ctx, "order-10", "smtp down"))

	got, err := s.Get(ctx, "order-10")
	require.NoError(t, err)
	require.NotNil(t, got.NotificationState.AdminSentAt)
	assert.True(t, at.Equal(*got.NotificationState.AdminSentAt))
	assert.Nil(t, got.NotificationState.CustomerSentAt)
	require.NotNil(t, got.NotificationState.LastError)
	assert.Equal(t, "smtp down", *got.NotificationState.LastError)

	assert.ErrorIs(t, s.RecordNotificationSent(ctx, "missing", TargetCustomer, at), ErrNotFound)
}
