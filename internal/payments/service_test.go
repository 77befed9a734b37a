package payments

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
}

func (f *fakeOrders) Get(_ context.Context, id string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) AssignReference(_ context.Context, id, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.GatewayReference != "" && o.GatewayReference != ref {
		return orders.ErrReferenceConflict
	}
	o.GatewayReference = ref
	return nil
}

func (f *fakeOrders) AttachTransactionID(_ context.Context, id, tx string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	if o.GatewayTransactionID != "" && o.GatewayTransactionID != tx {
		return orders.ErrTransactionConflict
	}
	o.GatewayTransactionID = tx
	return nil
}

type fakeGateway struct {
	configured bool
	calls      []gateway.CreateTransactionRequest
	nextID     int
	err        error
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) CreateTransaction(_ context.Context, in gateway.CreateTransactionRequest) (gateway.Transaction, error) {
	g.calls = append(g.calls, in)
	if g.err != nil {
		return gateway.Transaction{}, g.err
	}
	g.nextID++
	return gateway.Transaction{ID: fmt.Sprintf("tx-%d", g.nextID), Status: "PENDING", Reference: in.Reference}, nil
}

func newService(t *testing.T, status orders.PaymentStatus) (*Service, *fakeOrders, *fakeGateway) {
	t.Helper()
	o := orderWithTotal("O1", "100000")
	o.PaymentStatus = status
	o.Customer = orders.Customer{FullName: "Ana", Email: "ana@example.com"}
	store := &fakeOrders{orders: map[string]*orders.Order{"O1": &o}}
	gw := &fakeGateway{configured: true}
	log, _ := logtest.NewNullLogger()
	return NewService(store, gw, NewBuilder("test_integrity_secret", "pub", "COP"), log), store, gw
}

func TestCreate_RegistersAndPinsReference(t *testing.T) {
	svc, store, gw := newService(t, orders.PaymentPending)

	res, err := svc.Create(context.Background(), CreateParams{OrderID: "O1", PaymentMethod: &gateway.PaymentMethod{Type: "CARD", Token: "tok"}})
	require.NoError(t, err)
	assert.Equal(t, "ORDER_O1", res.Reference)
	assert.Equal(t, "tx-1", res.TransactionID)
	assert.Equal(t, int64(10000000), res.AmountInMinorUnits)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "ana@example.com", gw.calls[0].CustomerEmail)
	assert.Equal(t, res.Signature, gw.calls[0].Signature)
	assert.Equal(t, "ORDER_O1", store.orders["O1"].GatewayReference)
	assert.Equal(t, "tx-1", store.orders["O1"].GatewayTransactionID)
}

func TestCreate_RetryReusesReferenceAndKeepsFirstTransaction(t *testing.T) {
	svc, store, gw := newService(t, orders.PaymentPending)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{OrderID: "O1"})
	require.NoError(t, err)
	res, err := svc.Create(ctx, CreateParams{OrderID: "O1"})
	require.NoError(t, err)

	assert.Equal(t, "ORDER_O1", res.Reference)
	assert.Equal(t, gw.calls[0].Reference, gw.calls[1].Reference)
	assert.Equal(t, "tx-1", store.orders["O1"].GatewayTransactionID)
}

func TestCreate_Refusals(t *testing.T) {
	svc, _, gw := newService(t, orders.PaymentApproved)
	_, err := svc.Create(context.Background(), CreateParams{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = svc.Create(context.Background(), CreateParams{OrderID: "missing"})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	svc, _, _ = newService(t, orders.PaymentDeclined)
	_, err = svc.Create(context.Background(), CreateParams{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrNotPayable)
	assert.Empty(t, gw.calls)
}

func TestCreate_ConfigurationBeforeAnyCall(t *testing.T) {
	store := &fakeOrders{orders: map[string]*orders.Order{}}
	gw := &fakeGateway{configured: true}
	svc := NewService(store, gw, NewBuilder("", "", "COP"), logrus.New())

	_, err := svc.Create(context.Background(), CreateParams{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrConfiguration)

	gw.configured = false
	svc = NewService(store, gw, NewBuilder("secret", "", "COP"), logrus.New())
	_, err = svc.Create(context.Background(), CreateParams{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, gw.calls)
}

func TestCreate_GatewayUnavailable(t *testing.T) {
	svc, store, gw := newService(t, orders.PaymentPending)
	gw.err = fmt.Errorf("%w: timeout", gateway.ErrUnavailable)

	_, err := svc.Create(context.Background(), CreateParams{OrderID: "O1"})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Empty(t, store.orders["O1"].GatewayTransactionID)
}
