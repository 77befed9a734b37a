// Package notifications is the deduplicated, retryable outbound notification
// queue. Jobs live in DynamoDB keyed by (order, kind); SQS only wakes workers.
package notifications

import (
	"errors"
	"time"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// Kind is the notification type. One job exists per (order, kind).
type Kind string

const (
	KindAdminNewOrder        Kind = "admin_new_order"
	KindCustomerConfirmation Kind = "customer_confirmation"
)

// Kinds lists every kind enqueued for an approved order.
var Kinds = []Kind{KindAdminNewOrder, KindCustomerConfirmation}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAdminNewOrder, KindCustomerConfirmation:
		return k, nil
	default:
		return "", errors.New("unknown notification kind " + s)
	}
}

// Target maps a kind to the order field that records its delivery.
func (k Kind) Target() orders.NotificationTarget {
	if k == KindAdminNewOrder {
		return orders.TargetAdmin
	}
	return orders.TargetCustomer
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

var (
	ErrNotFound        = errors.New("notification job not found")
	ErrLeaseHeld       = errors.New("notification job is leased or not due")
	ErrLeaseLost       = errors.New("notification job lease lost")
	ErrNotDead         = errors.New("notification job is not dead")
	ErrDeliveryFailure = errors.New("notification delivery failed")
)

// JobID is the primary key of the job for (orderID, kind).
func JobID(orderID string, kind Kind) string {
	return orderID + "#" + string(kind)
}

type PayloadItem struct {
	Name     string `dynamodbav:"name" json:"name"`
	Quantity int    `dynamodbav:"quantity" json:"quantity"`
}

// Payload is the snapshot rendered into the message.
type Payload struct {
	OrderID       string        `dynamodbav:"order_id" json:"orderId"`
	Reference     string        `dynamodbav:"reference" json:"reference"`
	CustomerName  string        `dynamodbav:"customer_name" json:"customerName"`
	CustomerEmail string        `dynamodbav:"customer_email" json:"customerEmail"`
	TotalAmount   string        `dynamodbav:"total_amount" json:"totalAmount"`
	Currency      string        `dynamodbav:"currency" json:"currency"`
	Items         []PayloadItem `dynamodbav:"items" json:"items"`
}

// PayloadFor snapshots an order.
func PayloadFor(o orders.Order) Payload {
	items := make([]PayloadItem, 0, len(o.Items))
	for _, it := range o.Items {
		name := it.Name
		if name == "" {
			name = it.ReferenceID
		}
		items = append(items, PayloadItem{Name: name, Quantity: it.Quantity})
	}
	return Payload{
		OrderID:       o.OrderID,
		Reference:     o.GatewayReference,
		CustomerName:  o.Customer.FullName,
		CustomerEmail: o.Customer.Email,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		Currency:      o.Currency,
		Items:         items,
	}
}

// Job is the item stored in the notification jobs table.
type Job struct {
	JobID         string     `dynamodbav:"job_id"` // PK
	OrderID       string     `dynamodbav:"order_id"`
	Kind          Kind       `dynamodbav:"kind"`
	Status        Status     `dynamodbav:"status"`          // GSI PK
	NextAttemptAt int64      `dynamodbav:"next_attempt_at"` // GSI SK, unix seconds; lease expiry while processing
	Attempts      int        `dynamodbav:"attempts"`
	SentAt        *time.Time `dynamodbav:"sent_at,omitempty"`
	MessageID     string     `dynamodbav:"message_id,omitempty"`
	LastError     string     `dynamodbav:"last_error,omitempty"`
	LockedAt      *time.Time `dynamodbav:"locked_at,omitempty"`
	LockedBy      string     `dynamodbav:"locked_by,omitempty"`
	Payload       Payload    `dynamodbav:"payload"`
	CreatedAt     time.Time  `dynamodbav:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at"`
}

// Policy bounds retries and leases.
type Policy struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	LeaseTimeout time.Duration
}

// Backoff returns the wait after the given number of failed attempts:
// base * 2^(attempts-1), capped at max.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.BackoffMax || d <= 0 {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
