package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// OrderStore is the subset of orders.Store the intent service needs.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	AssignReference(ctx context.Context, orderID, reference string) error
	AttachTransactionID(ctx context.Context, orderID, transactionID string) error
}

type Gateway interface {
	Configured() bool
	CreateTransaction(ctx context.Context, in gateway.CreateTransactionRequest) (gateway.Transaction, error)
}

// CreateParams carries the client-supplied parts of a transaction.
type CreateParams struct {
	OrderID         string
	AcceptanceToken string
	RedirectURL     string
	PaymentMethod   *gateway.PaymentMethod
}

// Result is the intent plus what the gateway answered.
type Result struct {
	Intent
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
}

type Service struct {
	orders  OrderStore
	gateway Gateway
	builder *Builder
	log     logrus.FieldLogger
}

func NewService(store OrderStore, gw Gateway, builder *Builder, log logrus.FieldLogger) *Service {
	return &Service{orders: store, gateway: gw, builder: builder, log: log}
}

// Create builds the intent for an unpaid order, pins its reference and
// registers the transaction with the gateway.
func (s *Service) Create(ctx context.Context, p CreateParams) (Result, error) {
	if err := s.builder.Ready(); err != nil {
		return Result{}, err
	}
	if !s.gateway.Configured() {
		return Result{}, fmt.Errorf("%w: gateway credentials are empty", ErrConfiguration)
	}

	o, err := s.orders.Get(ctx, p.OrderID)
	if err != nil {
		return Result{}, err
	}
	if o == nil {
		return Result{}, orders.ErrNotFound
	}
	switch o.PaymentStatus {
	case orders.PaymentApproved:
		return Result{}, ErrAlreadyPaid
	case orders.PaymentDeclined, orders.PaymentError:
		return Result{}, fmt.Errorf("%w: payment status is %s", ErrNotPayable, o.PaymentStatus)
	}

	intent, err := s.builder.Build(*o)
	if err != nil {
		return Result{}, err
	}
	if err := s.orders.AssignReference(ctx, o.OrderID, intent.Reference); err != nil {
		return Result{}, fmt.Errorf("assign reference: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"order_id": o.OrderID, "reference": intent.Reference})
	tx, err := s.gateway.CreateTransaction(ctx, gatewayRequest(*o, intent, p))
	if err != nil {
		log.WithError(err).Warn("gateway create transaction failed")
		return Result{}, err
	}

	res := Result{Intent: intent, OrderID: o.OrderID, TransactionID: tx.ID, Status: tx.Status}
	if tx.Reference != "" && tx.Reference != intent.Reference {
		log.WithField("gateway_reference", tx.Reference).Warn("gateway echoed a different reference")
	}
	if tx.ID == "" {
		return res, nil
	}
	if err := s.orders.AttachTransactionID(ctx, o.OrderID, tx.ID); err != nil {
		if !errors.Is(err, orders.ErrTransactionConflict) {
			return Result{}, fmt.Errorf("attach transaction id: %w", err)
		}
		// a previous attempt already pinned its id; reconciliation by reference still finds this one
		log.WithField("transaction_id", tx.ID).Info("order keeps its earlier transaction id")
	}
	log.WithField("transaction_id", tx.ID).Info("payment intent registered")
	return res, nil
}

func gatewayRequest(o orders.Order, intent Intent, p CreateParams) gateway.CreateTransactionRequest {
	return gateway.CreateTransactionRequest{
		AmountInCents:   intent.AmountInMinorUnits,
		Currency:        intent.Currency,
		Reference:       intent.Reference,
		Signature:       intent.Signature,
		CustomerEmail:   o.Customer.Email,
		AcceptanceToken: p.AcceptanceToken,
		RedirectURL:     p.RedirectURL,
		PaymentMethod:   p.PaymentMethod,
		CustomerData: &gateway.CustomerData{
			FullName:    o.Customer.FullName,
			PhoneNumber: o.Customer.PhoneNumber,
			LegalID:     o.Customer.LegalID,
			LegalIDType: o.Customer.LegalIDType,
		},
		ShippingAddress: &gateway.ShippingAddress{
			AddressLine1: o.Shipping.AddressLine1,
			AddressLine2: o.Shipping.AddressLine2,
			Country:      o.Shipping.Country,
			Region:       o.Shipping.Region,
			City:         o.Shipping.City,
			Name:         o.Customer.FullName,
			PhoneNumber:  o.Shipping.PhoneNumber,
			PostalCode:   o.Shipping.PostalCode,
		},
	}
}
