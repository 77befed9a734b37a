package payments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

func orderWithTotal(id, total string) orders.Order {
	return orders.Order{
		OrderID:     id,
		Items:       []orders.Item{{ReferenceID: "p1", Kind: orders.KindProduct, Quantity: 1, UnitPrice: orders.MustMoney(total)}},
		TotalAmount: orders.MustMoney(total),
		Currency:    "COP",
	}
}

func TestBuild_Scenario(t *testing.T) {
	b := NewBuilder("test_integrity_secret", "pub_test", "COP")

	intent, err := b.Build(orderWithTotal("O1", "100000"))
	require.NoError(t, err)
	assert.Equal(t, "ORDER_O1", intent.Reference)
	assert.Equal(t, int64(10000000), intent.AmountInMinorUnits)
	assert.Equal(t, "COP", intent.Currency)
	assert.Equal(t, "0a99b69634dd0a6592b755273d009526f64201e419c79a2f744dc68e773ac7f1", intent.Signature)
	assert.Equal(t, "pub_test", intent.PublicKey)

	again, err := b.Build(orderWithTotal("O1", "100000"))
	require.NoError(t, err)
	assert.Equal(t, intent, again)
}

func TestMinorUnits_RoundHalfUp(t *testing.T) {
	cases := map[string]int64{
		"0.01":     1,
		"10.005":   1001,
		"10.004":   1000,
		"19.995":   2000,
		"1234.5":   123450,
		"100000":   10000000,
		"0.004999": 0,
	}
	for in, want := range cases {
		assert.Equal(t, want, MinorUnits(orders.MustMoney(in)), in)
	}
}

func TestBuild_ConfigurationCheckedFirst(t *testing.T) {
	b := NewBuilder("", "pub", "COP")

	// even an invalid order reports the configuration problem
	_, err := b.Build(orders.Order{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBuild_ValidationErrors(t *testing.T) {
	b := NewBuilder("secret", "", "COP")

	empty := orderWithTotal("O2", "10")
	empty.Items = nil
	zero := orderWithTotal("O3", "0")
	unknown := orderWithTotal("O4", "10")
	unknown.Items[0].Kind = "Gift"

	for name, o := range map[string]orders.Order{"empty": empty, "zero": zero, "unknown kind": unknown} {
		_, err := b.Build(o)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), name)
	}
}

func TestBuild_DefaultCurrency(t *testing.T) {
	b := NewBuilder("secret", "", "cop")
	o := orderWithTotal("O5", "1")
	o.Currency = ""

	intent, err := b.Build(o)
	require.NoError(t, err)
	assert.Equal(t, "COP", intent.Currency)
	assert.Equal(t, Sign("ORDER_O5", 100, "COP", "secret"), intent.Signature)
}
