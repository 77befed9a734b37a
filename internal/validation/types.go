package validation

import (
	"strings"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// Item represents a single order line item. UnitPrice must be >= 0, which
// is checked at struct level together with the total.
type Item struct {
	ReferenceID string          `json:"referenceId" validate:"required"`
	Kind        orders.ItemKind `json:"kind" validate:"required,oneof=Product Combo Implement"`
	Name        string          `json:"name,omitempty"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	UnitPrice   orders.Money    `json:"unitPrice"`
}

type Customer struct {
	FullName    string `json:"fullName" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	LegalID     string `json:"legalId,omitempty"`
	LegalIDType string `json:"legalIdType,omitempty" validate:"omitempty,oneof=CC CE NIT PP TI DNI"`
}

type Shipping struct {
	AddressLine1 string `json:"addressLine1" validate:"required"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city" validate:"required"`
	Region       string `json:"region" validate:"required"`
	Country      string `json:"country" validate:"required,len=2"`
	PostalCode   string `json:"postalCode,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

// CheckoutRequest is the payload for POST /orders. Discount is optional;
// TotalAmount is what the client claims and must match the lines.
type CheckoutRequest struct {
	Items       []Item       `json:"items" validate:"required,min=1,dive"`
	Discount    orders.Money `json:"discount"`
	TotalAmount orders.Money `json:"totalAmount"`
	Currency    string       `json:"currency,omitempty" validate:"omitempty,len=3"`
	Customer    Customer     `json:"customer"`
	Shipping    Shipping     `json:"shipping"`
}

// Order converts the request into a new pending order. currency is used when
// the request leaves it empty.
func (r CheckoutRequest) Order(orderID, currency string) orders.Order {
	items := toOrderItems(r.Items)
	if r.Currency != "" {
		currency = strings.ToUpper(r.Currency)
	}
	return orders.Order{
		OrderID:     orderID,
		Items:       items,
		Discount:    r.Discount,
		TotalAmount: r.TotalAmount,
		Currency:    currency,
		Customer: orders.Customer{
			FullName:    r.Customer.FullName,
			Email:       strings.ToLower(strings.TrimSpace(r.Customer.Email)),
			PhoneNumber: r.Customer.PhoneNumber,
			LegalID:     r.Customer.LegalID,
			LegalIDType: r.Customer.LegalIDType,
		},
		Shipping: orders.Shipping{
			AddressLine1: r.Shipping.AddressLine1,
			AddressLine2: r.Shipping.AddressLine2,
			City:         r.Shipping.City,
			Region:       r.Shipping.Region,
			Country:      strings.ToUpper(r.Shipping.Country),
			PostalCode:   r.Shipping.PostalCode,
			PhoneNumber:  r.Shipping.PhoneNumber,
		},
		PaymentStatus: orders.PaymentPending,
		Status:        orders.StatusCreated,
	}
}

func toOrderItems(in []Item) []orders.Item {
	items := make([]orders.Item, 0, len(in))
	for _, it := range in {
		items = append(items, orders.Item{
			ReferenceID: it.ReferenceID,
			Kind:        it.Kind,
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return items
}

// PaymentMethod is forwarded to the gateway untouched apart from validation.
type PaymentMethod struct {
	Type         string `json:"type" validate:"required,oneof=CARD NEQUI PSE BANCOLOMBIA_TRANSFER"`
	Token        string `json:"token,omitempty"`
	Installments int    `json:"installments,omitempty" validate:"omitempty,min=1,max=36"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

// CreateTransactionRequest is the payload for POST /create-transaction
type CreateTransactionRequest struct {
	OrderID         string         `json:"orderId" validate:"required"`
	AcceptanceToken string         `json:"acceptanceToken,omitempty"`
	RedirectURL     string         `json:"redirectUrl,omitempty" validate:"omitempty,url"`
	PaymentMethod   *PaymentMethod `json:"paymentMethod,omitempty" validate:"omitempty"`
}

// FinalizeRequest is the payload for POST /verify-and-finalize. TransactionID
// is optional; when absent the stored id or the order reference is used.
type FinalizeRequest struct {
	OrderID       string `json:"orderId" validate:"required"`
	TransactionID string `json:"transactionId,omitempty"`
}
