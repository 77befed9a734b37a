package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-reconciler/internal/dynamotest"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

func newTestLedger(t *testing.T, stock map[string]string) (*Ledger, *dynamotest.DB) {
	t.Helper()
	db := dynamotest.New().
		CreateTable("products", "product_id").
		CreateTable("stock_ledger", "order_id")
	for id, n := range stock {
		db.Seed("products", map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
			"stock":      &types.AttributeValueMemberN{Value: n},
		})
	}
	return NewLedger(db, "products", "stock_ledger"), db
}

func stockOf(t *testing.T, db *dynamotest.DB, id string) string {
	t.Helper()
	item := db.Get("products", id)
	require.NotNil(t, item)
	return item["stock"].(*types.AttributeValueMemberN).Value
}

func TestDecrementOnce_OnlyProducts(t *testing.T) {
	l, db := newTestLedger(t, map[string]string{"p1": "10", "p2": "3"})
	items := []orders.Item{
		{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 2},
		{ReferenceID: "c1", Kind: orders.KindCombo, Quantity: 1},
		{ReferenceID: "i1", Kind: orders.KindImplement, Quantity: 4},
		{ReferenceID: "p2", Kind: orders.KindProduct, Quantity: 1},
		{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 1},
	}

	res, err := l.DecrementOnce(context.Background(), "O1", items)
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.False(t, res.Partial())
	assert.Equal(t, []Line{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}, res.Applied)
	assert.Equal(t, []string{"c1", "i1"}, res.Skipped)

	assert.Equal(t, "7", stockOf(t, db, "p1"))
	assert.Equal(t, "2", stockOf(t, db, "p2"))
	assert.NotNil(t, db.Get("stock_ledger", "O1"))
}

func TestDecrementOnce_Replay(t *testing.T) {
	l, db := newTestLedger(t, map[string]string{"p1": "10"})
	items := []orders.Item{{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 2}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.DecrementOnce(ctx, "O1", items)
		require.NoError(t, err)
	}

	res, err := l.DecrementOnce(ctx, "O1", items)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Equal(t, "8", stockOf(t, db, "p1"))
}

func TestDecrementOnce_MissingProductIsPartial(t *testing.T) {
	l, db := newTestLedger(t, map[string]string{"p1": "5"})
	items := []orders.Item{
		{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 1},
		{ReferenceID: "gone", Kind: orders.KindProduct, Quantity: 1},
		{ReferenceID: "x", Kind: "Gift", Quantity: 1},
	}

	res, err := l.DecrementOnce(context.Background(), "O2", items)
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Equal(t, []string{"gone"}, res.Missing)
	assert.Equal(t, []string{"x"}, res.Unknown)
	assert.Equal(t, "4", stockOf(t, db, "p1"))
	assert.Nil(t, db.Get("products", "gone"))
}

func TestDecrementOnce_ConcurrentMarkerWins(t *testing.T) {
	l, db := newTestLedger(t, map[string]string{"p1": "5"})
	items := []orders.Item{{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 1}}

	// another writer lands its marker between our check and our write
	db.Hook = func(op string) error {
		if op == "TransactWriteItems" {
			db.Seed("stock_ledger", map[string]types.AttributeValue{
				"order_id": &types.AttributeValueMemberS{Value: "O3"},
			})
		}
		return nil
	}

	res, err := l.DecrementOnce(context.Background(), "O3", items)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Equal(t, "5", stockOf(t, db, "p1"))
}

func TestDecrementOnce_StoreError(t *testing.T) {
	l, db := newTestLedger(t, map[string]string{"p1": "5"})
	db.Hook = func(op string) error { return errors.New("throttled") }

	_, err := l.DecrementOnce(context.Background(), "O4", []orders.Item{{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 1}})
	assert.Error(t, err)
}
