package orders

import (
	"errors"
	"time"
)

// PaymentStatus is the local view of the gateway transaction.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentDeclined PaymentStatus = "declined"
	PaymentError    PaymentStatus = "error"
)

// Status is the fulfilment status of the order.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusCancelled  Status = "cancelled"
)

// ItemKind tags what an order line references. Only products carry stock.
type ItemKind string

const (
	KindProduct   ItemKind = "Product"
	KindCombo     ItemKind = "Combo"
	KindImplement ItemKind = "Implement"
)

// Valid reports whether k is one of the known kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case KindProduct, KindCombo, KindImplement:
		return true
	default:
		return false
	}
}

// MaxProductLines bounds the distinct Product lines of one order. The stock
// decrement and its ledger marker share a single DynamoDB transaction, which
// holds at most 100 items.
const MaxProductLines = 99

// ProductLines counts the distinct Product reference ids in items.
func ProductLines(items []Item) int {
	seen := map[string]struct{}{}
	for _, it := range items {
		if it.Kind == KindProduct {
			seen[it.ReferenceID] = struct{}{}
		}
	}
	return len(seen)
}

// ReferencePrefix prefixes every gateway reference.
const ReferencePrefix = "ORDER_"

// ReferenceFor derives the gateway reference for an order id. The same id
// always yields the same reference.
func ReferenceFor(orderID string) string {
	return ReferencePrefix + orderID
}

var (
	ErrNotFound            = errors.New("order not found")
	ErrOrderExists         = errors.New("order already exists")
	ErrReferenceConflict   = errors.New("order already has a different gateway reference")
	ErrTransactionConflict = errors.New("order already has a different gateway transaction id")
)

// Item is a single order line.
type Item struct {
	ReferenceID string   `dynamodbav:"reference_id" json:"referenceId"`
	Kind        ItemKind `dynamodbav:"kind" json:"kind"`
	Name        string   `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Quantity    int      `dynamodbav:"quantity" json:"quantity"`
	UnitPrice   Money    `dynamodbav:"unit_price" json:"unitPrice"`
}

// Customer is the contact data captured at checkout.
type Customer struct {
	FullName    string `dynamodbav:"full_name" json:"fullName"`
	Email       string `dynamodbav:"email" json:"email"`
	PhoneNumber string `dynamodbav:"phone_number,omitempty" json:"phoneNumber,omitempty"`
	LegalID     string `dynamodbav:"legal_id,omitempty" json:"legalId,omitempty"`
	LegalIDType string `dynamodbav:"legal_id_type,omitempty" json:"legalIdType,omitempty"`
}

// Shipping is the delivery address captured at checkout.
type Shipping struct {
	AddressLine1 string `dynamodbav:"address_line_1" json:"addressLine1"`
	AddressLine2 string `dynamodbav:"address_line_2,omitempty" json:"addressLine2,omitempty"`
	City         string `dynamodbav:"city" json:"city"`
	Region       string `dynamodbav:"region" json:"region"`
	Country      string `dynamodbav:"country" json:"country"`
	PostalCode   string `dynamodbav:"postal_code,omitempty" json:"postalCode,omitempty"`
	PhoneNumber  string `dynamodbav:"phone_number,omitempty" json:"phoneNumber,omitempty"`
}

// NotificationState mirrors the delivery outcome of the order's notification jobs.
type NotificationState struct {
	AdminSentAt    *time.Time `dynamodbav:"admin_sent_at" json:"adminSentAt"`
	CustomerSentAt *time.Time `dynamodbav:"customer_sent_at" json:"customerSentAt"`
	LastError      *string    `dynamodbav:"last_error" json:"lastError"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID              string            `dynamodbav:"order_id" json:"orderId"` // PK
	Items                []Item            `dynamodbav:"items" json:"items"`
	Discount             Money             `dynamodbav:"discount" json:"discount"`
	TotalAmount          Money             `dynamodbav:"total_amount" json:"totalAmount"`
	Currency             string            `dynamodbav:"currency" json:"currency"`
	Customer             Customer          `dynamodbav:"customer" json:"customer"`
	Shipping             Shipping          `dynamodbav:"shipping" json:"shipping"`
	GatewayReference     string            `dynamodbav:"gateway_reference,omitempty" json:"gatewayReference,omitempty"`           // GSI
	GatewayTransactionID string            `dynamodbav:"gateway_transaction_id,omitempty" json:"gatewayTransactionId,omitempty"` // GSI
	PaymentStatus        PaymentStatus     `dynamodbav:"payment_status" json:"paymentStatus"`
	Status               Status            `dynamodbav:"order_status" json:"orderStatus"`
	NotificationState    NotificationState `dynamodbav:"notification_state" json:"notificationState"`
	StockApplied         bool              `dynamodbav:"stock_applied" json:"stockApplied"`
	CreatedAt            time.Time         `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt            time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
}

// Subtotal is Σ quantity × unitPrice.
func (o *Order) Subtotal() Money {
	sum := Zero
	for _, it := range o.Items {
		sum = sum.Add(it.UnitPrice.MulInt(it.Quantity))
	}
	return sum
}

// CheckTotal verifies totalAmount = subtotal − discount and that neither side is negative.
func (o *Order) CheckTotal() error {
	if o.Discount.IsNegative() {
		return errors.New("discount must not be negative")
	}
	if o.TotalAmount.IsNegative() {
		return errors.New("total amount must not be negative")
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return errors.New("item quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return errors.New("item unit price must not be negative")
		}
	}
	want := o.Subtotal().Sub(o.Discount)
	if !want.Equal(o.TotalAmount) {
		return errors.New("total amount does not match items minus discount")
	}
	return nil
}
