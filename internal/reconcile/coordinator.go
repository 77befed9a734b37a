// Package reconcile brings local orders into agreement with the gateway.
//
// Webhooks, client finalize calls and operator recovery all end in the same
// commit: one conditional update of the order's payment status. Only the
// caller whose update lands runs the effects (stock, notifications), so
// concurrent or replayed entry points converge on a single application.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/inventory"
	"github.com/imrishuroy/storefront-reconciler/internal/notifications"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/webhook"
)

var (
	// ErrStateConflict means the conditional update was lost twice. It is
	// logged and converted to a no-op outcome, never returned to callers.
	ErrStateConflict     = errors.New("order state changed concurrently")
	ErrReferenceMismatch = errors.New("gateway transaction belongs to another order")
	ErrNoTransaction     = errors.New("order has no gateway transaction")
	ErrNotApproved       = errors.New("order payment is not approved")
)

// commitAttempts is one try plus one retry after reloading.
const commitAttempts = 2

// Source names the entry point that started a reconciliation.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceFinalize Source = "finalize"
	SourceRecovery Source = "recovery"
	SourceRedrive  Source = "redrive"
)

type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*orders.Order, error)
	AttachTransactionID(ctx context.Context, orderID, transactionID string) error
	ApplyTransition(ctx context.Context, orderID string, from orders.PaymentStatus, plan orders.Plan) error
}

// Gateway is the read side of the gateway client.
type Gateway interface {
	GetTransaction(ctx context.Context, id string) (gateway.Transaction, error)
	FindByReference(ctx context.Context, reference string) (gateway.Transaction, error)
}

type Ledger interface {
	DecrementOnce(ctx context.Context, orderID string, items []orders.Item) (inventory.Result, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, orderID string, kind notifications.Kind, payload notifications.Payload) (bool, error)
}

type Metrics interface {
	Incr(ctx context.Context, name string, dims map[string]string) error
}

// Outcome reports what a reconciliation did.
type Outcome struct {
	OrderID       string               `json:"orderId,omitempty"`
	Reference     string               `json:"reference,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	GatewayStatus string               `json:"gatewayStatus,omitempty"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus,omitempty"`
	OrderStatus   orders.Status        `json:"orderStatus,omitempty"`
	// Applied is true only for the call that committed the transition.
	Applied bool `json:"applied"`
	// Ignored is set when the event matched no order or carried no update.
	Ignored bool `json:"ignored,omitempty"`
	Anomaly bool `json:"anomaly,omitempty"`
	// StockMissing lists products that no longer existed when stock was applied.
	StockMissing []string `json:"stockMissing,omitempty"`
	// EffectsFailed is set when the commit landed but an effect could not be
	// run; `recover redrive` completes it.
	EffectsFailed bool `json:"effectsFailed,omitempty"`
}

type Coordinator struct {
	orders   OrderStore
	gateway  Gateway
	ledger   Ledger
	notifier Notifier
	metrics  Metrics
	log      logrus.FieldLogger
}

// NewCoordinator wires a Coordinator. metrics may be nil.
func NewCoordinator(store OrderStore, gw Gateway, ledger Ledger, notifier Notifier, metrics Metrics, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		orders:   store,
		gateway:  gw,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// HandleWebhook reconciles a verified gateway event. Events for unknown
// references are acknowledged as ignored so the gateway stops redelivering.
func (c *Coordinator) HandleWebhook(ctx context.Context, ev webhook.Event) (Outcome, error) {
	tx := ev.Data.Transaction
	log := c.log.WithFields(logrus.Fields{"source": SourceWebhook, "reference": tx.Reference, "transaction_id": tx.ID, "event": ev.Event})
	if !ev.Relevant() {
		log.Debug("webhook event ignored")
		return Outcome{Reference: tx.Reference, TransactionID: tx.ID, Ignored: true}, nil
	}

	order, err := c.resolve(ctx, tx.Reference, tx.ID)
	if err != nil {
		return Outcome{}, err
	}
	if order == nil {
		log.Warn("webhook for unknown order ignored")
		c.incr(ctx, "ReconcileNoop", SourceWebhook)
		return Outcome{Reference: tx.Reference, TransactionID: tx.ID, GatewayStatus: tx.Status, Ignored: true}, nil
	}
	log = log.WithField("order_id", order.OrderID)

	anomaly := false
	if want := payments.MinorUnits(order.TotalAmount); tx.AmountInCents != 0 && tx.AmountInCents != want {
		log.WithFields(logrus.Fields{"amount_in_cents": tx.AmountInCents, "expected": want}).Warn("webhook amount does not match order total")
		c.incr(ctx, "ReconcileAnomaly", SourceWebhook)
		anomaly = true
	}

	c.attach(ctx, log, order, tx.ID)
	out, err := c.apply(ctx, SourceWebhook, log, order, gateway.Transaction{ID: tx.ID, Status: tx.Status, Reference: tx.Reference})
	out.Anomaly = out.Anomaly || anomaly
	return out, err
}

// HandleClientFinalize reconciles an order from the gateway's own record of
// its transaction. A client-supplied transactionID is only used to look the
// transaction up; its reference must match the order.
func (c *Coordinator) HandleClientFinalize(ctx context.Context, orderID, transactionID string) (Outcome, error) {
	log := c.log.WithFields(logrus.Fields{"source": SourceFinalize, "order_id": orderID})
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order == nil {
		return Outcome{}, fmt.Errorf("%w: %s", orders.ErrNotFound, orderID)
	}
	return c.reconcileFromGateway(ctx, SourceFinalize, log, order, transactionID)
}

// HandleOperatorRecovery is HandleClientFinalize keyed by gateway reference.
func (c *Coordinator) HandleOperatorRecovery(ctx context.Context, reference string) (Outcome, error) {
	log := c.log.WithFields(logrus.Fields{"source": SourceRecovery, "reference": reference})
	order, err := c.orders.GetByReference(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	if order == nil {
		return Outcome{}, fmt.Errorf("%w: reference %s", orders.ErrNotFound, reference)
	}
	return c.reconcileFromGateway(ctx, SourceRecovery, log.WithField("order_id", order.OrderID), order, "")
}

// RedriveEffects re-runs the effects of an approved order. Each effect is
// idempotent, so effects already applied are skipped.
func (c *Coordinator) RedriveEffects(ctx context.Context, orderID string) (Outcome, error) {
	log := c.log.WithFields(logrus.Fields{"source": SourceRedrive, "order_id": orderID})
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order == nil {
		return Outcome{}, fmt.Errorf("%w: %s", orders.ErrNotFound, orderID)
	}
	if order.PaymentStatus != orders.PaymentApproved {
		return Outcome{}, fmt.Errorf("%w: payment status is %s", ErrNotApproved, order.PaymentStatus)
	}
	// the approval plan carries every effect
	plan := orders.Transition(orders.PaymentPending, orders.StatusCreated, orders.GatewayApproved)
	out := outcomeOf(order)
	c.runEffects(ctx, SourceRedrive, log, order, plan, &out)
	log.WithField("effects_failed", out.EffectsFailed).Info("effects redriven")
	return out, nil
}

func (c *Coordinator) reconcileFromGateway(ctx context.Context, src Source, log logrus.FieldLogger, order *orders.Order, transactionID string) (Outcome, error) {
	tx, err := c.lookup(ctx, order, transactionID)
	if err != nil {
		// nothing has been written yet
		log.WithError(err).Warn("gateway lookup failed")
		return Outcome{}, err
	}
	log = log.WithFields(logrus.Fields{"transaction_id": tx.ID, "gateway_status": tx.Status})
	c.attach(ctx, log, order, tx.ID)
	return c.apply(ctx, src, log, order, tx)
}

// lookup fetches the authoritative transaction for order: the client-supplied
// id, else the stored id, else a search by reference.
func (c *Coordinator) lookup(ctx context.Context, order *orders.Order, transactionID string) (gateway.Transaction, error) {
	reference := order.GatewayReference
	switch {
	case transactionID != "":
		tx, err := c.gateway.GetTransaction(ctx, transactionID)
		if err != nil {
			return gateway.Transaction{}, err
		}
		if reference == "" {
			reference = orders.ReferenceFor(order.OrderID)
		}
		if tx.Reference != reference {
			return gateway.Transaction{}, fmt.Errorf("%w: transaction %s has reference %q, order %s expects %q",
				ErrReferenceMismatch, tx.ID, tx.Reference, order.OrderID, reference)
		}
		return tx, nil

	case order.GatewayTransactionID != "":
		return c.gateway.GetTransaction(ctx, order.GatewayTransactionID)

	case reference != "":
		tx, err := c.gateway.FindByReference(ctx, reference)
		if errors.Is(err, gateway.ErrNotFound) {
			return gateway.Transaction{}, fmt.Errorf("%w: no transaction for reference %s", ErrNoTransaction, reference)
		}
		return tx, err

	default:
		return gateway.Transaction{}, fmt.Errorf("%w: order %s has no reference", ErrNoTransaction, order.OrderID)
	}
}

// resolve finds the order by reference, then by transaction id.
func (c *Coordinator) resolve(ctx context.Context, reference, transactionID string) (*orders.Order, error) {
	if reference != "" {
		o, err := c.orders.GetByReference(ctx, reference)
		if err != nil || o != nil {
			return o, err
		}
	}
	if transactionID != "" {
		return c.orders.GetByTransactionID(ctx, transactionID)
	}
	return nil, nil
}

func (c *Coordinator) attach(ctx context.Context, log logrus.FieldLogger, order *orders.Order, transactionID string) {
	if transactionID == "" || order.GatewayTransactionID == transactionID {
		return
	}
	err := c.orders.AttachTransactionID(ctx, order.OrderID, transactionID)
	switch {
	case err == nil:
		order.GatewayTransactionID = transactionID
	case errors.Is(err, orders.ErrTransactionConflict):
		// a retried checkout can produce a second transaction; the first id stays
		log.WithField("stored_transaction_id", order.GatewayTransactionID).Warn("order already linked to another transaction")
	default:
		log.WithError(err).Warn("attach transaction id")
	}
}

// apply runs the state machine against order and commits the plan. On a lost
// update it reloads and tries once more.
func (c *Coordinator) apply(ctx context.Context, src Source, log logrus.FieldLogger, order *orders.Order, tx gateway.Transaction) (Outcome, error) {
	incoming := orders.ParseGatewayStatus(tx.Status)
	current := order

	for attempt := 1; ; attempt++ {
		plan := orders.Transition(current.PaymentStatus, current.Status, incoming)
		out := outcomeOf(current)
		out.GatewayStatus = string(incoming)
		out.Anomaly = plan.Anomaly

		if plan.Anomaly {
			log.WithFields(logrus.Fields{"payment_status": current.PaymentStatus, "incoming": incoming}).Warn("gateway status contradicts settled payment, ignored")
			c.incr(ctx, "ReconcileAnomaly", src)
		}
		if !plan.Changed {
			log.WithFields(logrus.Fields{"payment_status": current.PaymentStatus, "incoming": incoming}).Debug("reconcile no-op")
			c.incr(ctx, "ReconcileNoop", src)
			return out, nil
		}

		err := c.commit(ctx, current, plan, attempt)
		if errors.Is(err, ErrStateConflict) {
			log.WithError(err).Info("lost reconcile race, treating as no-op")
			c.incr(ctx, "ReconcileConflict", src)
			return out, nil
		}
		if errors.Is(err, orders.ErrStatusMismatch) {
			reloaded, getErr := c.orders.Get(ctx, current.OrderID)
			if getErr != nil {
				return Outcome{}, getErr
			}
			if reloaded == nil {
				return Outcome{}, fmt.Errorf("%w: %s", orders.ErrNotFound, current.OrderID)
			}
			current = reloaded
			continue
		}
		if err != nil {
			return Outcome{}, err
		}

		current.PaymentStatus = plan.PaymentStatus
		current.Status = plan.Status
		if plan.Has(orders.EffectDecrementStock) {
			current.StockApplied = true
		}
		out = outcomeOf(current)
		out.GatewayStatus = string(incoming)
		out.Applied = true

		log.WithFields(logrus.Fields{"payment_status": plan.PaymentStatus, "order_status": plan.Status}).Info("order reconciled")
		c.incr(ctx, "ReconcileApplied", src)
		c.runEffects(ctx, src, log, current, plan, &out)
		return out, nil
	}
}

// commit writes plan conditioned on the payment status read from order.
// A mismatch on the last attempt becomes ErrStateConflict.
func (c *Coordinator) commit(ctx context.Context, order *orders.Order, plan orders.Plan, attempt int) error {
	err := c.orders.ApplyTransition(ctx, order.OrderID, order.PaymentStatus, plan)
	if errors.Is(err, orders.ErrStatusMismatch) && attempt >= commitAttempts {
		return fmt.Errorf("%w: order %s after %d attempts", ErrStateConflict, order.OrderID, attempt)
	}
	return err
}

// runEffects executes plan's effects for order. Failures are logged and
// flagged on out; the committed state is never rolled back.
func (c *Coordinator) runEffects(ctx context.Context, src Source, log logrus.FieldLogger, order *orders.Order, plan orders.Plan, out *Outcome) {
	if plan.Has(orders.EffectDecrementStock) {
		res, err := c.ledger.DecrementOnce(ctx, order.OrderID, order.Items)
		switch {
		case err != nil:
			log.WithError(err).Error("stock decrement failed after commit, redrive required")
			out.EffectsFailed = true
		case res.Partial():
			log.WithFields(logrus.Fields{"missing": res.Missing, "unknown": res.Unknown}).Warn("stock applied partially")
			c.incr(ctx, "StockPartialFailure", src)
			out.StockMissing = make([]string, 0, len(res.Missing)+len(res.Unknown))
			out.StockMissing = append(out.StockMissing, res.Missing...)
			out.StockMissing = append(out.StockMissing, res.Unknown...)
		case res.AlreadyApplied:
			log.Debug("stock already applied")
		}
	}

	payload := notifications.PayloadFor(*order)
	for _, k := range notifyKinds(plan) {
		if _, err := c.notifier.Enqueue(ctx, order.OrderID, k, payload); err != nil {
			log.WithError(err).WithField("kind", k).Error("enqueue notification failed after commit, redrive required")
			out.EffectsFailed = true
		}
	}
}

func notifyKinds(plan orders.Plan) []notifications.Kind {
	var kinds []notifications.Kind
	if plan.Has(orders.EffectNotifyAdmin) {
		kinds = append(kinds, notifications.KindAdminNewOrder)
	}
	if plan.Has(orders.EffectNotifyCustomer) {
		kinds = append(kinds, notifications.KindCustomerConfirmation)
	}
	return kinds
}

func outcomeOf(o *orders.Order) Outcome {
	return Outcome{
		OrderID:       o.OrderID,
		Reference:     o.GatewayReference,
		TransactionID: o.GatewayTransactionID,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.Status,
	}
}

func (c *Coordinator) incr(ctx context.Context, name string, src Source) {
	if c.metrics == nil {
		return
	}
	if err := c.metrics.Incr(ctx, name, map[string]string{"Source": string(src)}); err != nil {
		c.log.WithError(err).WithField("metric", name).Warn("publish metric")
	}
}
