package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

func validCheckout() CheckoutRequest {
	return CheckoutRequest{
		Items: []Item{
			{ReferenceID: "prod-1", Kind: orders.KindProduct, Quantity: 2, UnitPrice: orders.MustMoney("10.10")},
			{ReferenceID: "impl-1", Kind: orders.KindImplement, Quantity: 1, UnitPrice: orders.MustMoney("5.20")},
		},
		Discount:    orders.MustMoney("0.40"),
		TotalAmount: orders.MustMoney("25.00"), // 2*10.10 + 5.20 - 0.40
		Customer:    Customer{FullName: "Ana Ruiz", Email: "ana@example.com"},
		Shipping:    Shipping{AddressLine1: "Calle 1", City: "Bogota", Region: "DC", Country: "co"},
	}
}

func TestCheckoutRequest_Valid(t *testing.T) {
	require.NoError(t, New().Struct(validCheckout()))
}

func TestCheckoutRequest_TotalMismatch(t *testing.T) {
	req := validCheckout()
	req.TotalAmount = orders.MustMoney("25.01")

	err := New().Struct(req)
	require.Error(t, err)
	assert.Contains(t, ErrorsToMap(err), "CheckoutRequest.totalAmount")
}

func TestCheckoutRequest_NonPositiveTotal(t *testing.T) {
	req := validCheckout()
	req.Items = []Item{{ReferenceID: "p", Kind: orders.KindProduct, Quantity: 1, UnitPrice: orders.Zero}}
	req.Discount = orders.Zero
	req.TotalAmount = orders.Zero

	require.Error(t, New().Struct(req))
}

func TestCheckoutRequest_NegativeDiscount(t *testing.T) {
	req := validCheckout()
	req.Discount = orders.MustMoney("-1")
	req.TotalAmount = orders.MustMoney("26.40")

	require.Error(t, New().Struct(req))
}

func TestCheckoutRequest_MissingFields(t *testing.T) {
	req := CheckoutRequest{
		Items:       []Item{},
		TotalAmount: orders.MustMoney("1"),
	}

	err := New().Struct(req)
	require.Error(t, err)
	fields := ErrorsToMap(err)
	assert.Contains(t, fields, "CheckoutRequest.items")
	assert.Contains(t, fields, "CheckoutRequest.customer.fullName")
}

func TestCheckoutRequest_UnknownKind(t *testing.T) {
	req := validCheckout()
	req.Items[0].Kind = "Bundle"

	require.Error(t, New().Struct(req))
}

func TestCheckoutRequest_Order(t *testing.T) {
	o := validCheckout().Order("order-1", "COP")

	assert.Equal(t, "order-1", o.OrderID)
	assert.Equal(t, "COP", o.Currency)
	assert.Equal(t, "CO", o.Shipping.Country)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.StatusCreated, o.Status)
	require.NoError(t, o.CheckTotal())
}

func TestCreateTransactionRequest(t *testing.T) {
	v := New()

	require.Error(t, v.Struct(CreateTransactionRequest{}))
	require.NoError(t, v.Struct(CreateTransactionRequest{OrderID: "o1"}))
	require.Error(t, v.Struct(CreateTransactionRequest{OrderID: "o1", PaymentMethod: &PaymentMethod{Type: "CASH"}}))
	require.NoError(t, v.Struct(CreateTransactionRequest{OrderID: "o1", PaymentMethod: &PaymentMethod{Type: "CARD", Token: "tok", Installments: 1}}))
}

func checkoutWithProducts(n int) CheckoutRequest {
	req := validCheckout()
	req.Items = nil
	for i := 0; i < n; i++ {
		req.Items = append(req.Items, Item{ReferenceID: fmt.Sprintf("p%03d", i), Kind: orders.KindProduct, Quantity: 1, UnitPrice: orders.MustMoney("1")})
	}
	req.Discount = orders.Zero
	req.TotalAmount = orders.MustMoney(fmt.Sprint(n))
	return req
}

func TestCheckoutRequest_ProductLineLimit(t *testing.T) {
	v := New()

	require.NoError(t, v.Struct(checkoutWithProducts(orders.MaxProductLines)))

	err := v.Struct(checkoutWithProducts(orders.MaxProductLines + 1))
	require.Error(t, err)
	assert.Contains(t, ErrorsToMap(err), "CheckoutRequest.items")

	// repeated lines of one product and non-stock lines do not count
	req := checkoutWithProducts(orders.MaxProductLines)
	req.Items = append(req.Items,
		Item{ReferenceID: "p000", Kind: orders.KindProduct, Quantity: 1, UnitPrice: orders.MustMoney("1")},
		Item{ReferenceID: "combo-1", Kind: orders.KindCombo, Quantity: 1, UnitPrice: orders.MustMoney("1")},
	)
	req.TotalAmount = orders.MustMoney(fmt.Sprint(orders.MaxProductLines + 2))
	require.NoError(t, v.Struct(req))
}
