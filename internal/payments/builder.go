// Package payments builds signed payment intents and registers them with the gateway.
package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

var (
	// ErrConfiguration means credentials are absent. It is raised before any I/O.
	ErrConfiguration = errors.New("payment configuration missing")
	ErrAlreadyPaid   = errors.New("order already paid")
	ErrNotPayable    = errors.New("order is not awaiting payment")
)

// ValidationError rejects an order locally, before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// minorUnitScale is the number of decimal places the gateway expects.
const minorUnitScale = 2

// Intent is the signed description of an order's payment terms.
type Intent struct {
	Reference          string `json:"reference"`
	AmountInMinorUnits int64  `json:"amountInCents"`
	Currency           string `json:"currency"`
	Signature          string `json:"signature"`
	PublicKey          string `json:"publicKey,omitempty"`
}

type Builder struct {
	integritySecret string
	publicKey       string
	currency        string
}

// NewBuilder returns a Builder. currency is used for orders that carry none.
func NewBuilder(integritySecret, publicKey, currency string) *Builder {
	return &Builder{
		integritySecret: integritySecret,
		publicKey:       publicKey,
		currency:        strings.ToUpper(currency),
	}
}

// Ready returns ErrConfiguration when the integrity secret is missing.
func (b *Builder) Ready() error {
	if strings.TrimSpace(b.integritySecret) == "" {
		return fmt.Errorf("%w: integrity secret is empty", ErrConfiguration)
	}
	return nil
}

// Build constructs the intent for o. The reference is derived from the order
// id, so rebuilding for the same order yields the same reference.
func (b *Builder) Build(o orders.Order) (Intent, error) {
	if err := b.Ready(); err != nil {
		return Intent{}, err
	}
	if o.OrderID == "" {
		return Intent{}, &ValidationError{Field: "orderId", Reason: "is empty"}
	}
	if len(o.Items) == 0 {
		return Intent{}, &ValidationError{Field: "items", Reason: "order has no items"}
	}
	for i, it := range o.Items {
		switch it.Kind {
		case orders.KindProduct, orders.KindCombo, orders.KindImplement:
		default:
			return Intent{}, &ValidationError{Field: fmt.Sprintf("items[%d].kind", i), Reason: fmt.Sprintf("unknown kind %q", it.Kind)}
		}
		if it.Quantity <= 0 {
			return Intent{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
	}
	if !o.TotalAmount.IsPositive() {
		return Intent{}, &ValidationError{Field: "totalAmount", Reason: "must be positive"}
	}

	currency := strings.ToUpper(o.Currency)
	if currency == "" {
		currency = b.currency
	}
	if currency == "" {
		return Intent{}, &ValidationError{Field: "currency", Reason: "is empty"}
	}

	reference := orders.ReferenceFor(o.OrderID)
	amount := MinorUnits(o.TotalAmount)
	return Intent{
		Reference:          reference,
		AmountInMinorUnits: amount,
		Currency:           currency,
		Signature:          Sign(reference, amount, currency, b.integritySecret),
		PublicKey:          b.publicKey,
	}, nil
}

// MinorUnits converts a major-unit amount to the gateway's smallest unit,
// rounding half up. This is the only place the scale is applied.
func MinorUnits(amount orders.Money) int64 {
	return amount.Shift(minorUnitScale).Round(0).IntPart()
}

// Sign is hex(SHA-256(reference ∥ amount ∥ currency ∥ secret)).
func Sign(reference string, amountInMinorUnits int64, currency, secret string) string {
	var sb strings.Builder
	sb.WriteString(reference)
	sb.WriteString(strconv.FormatInt(amountInMinorUnits, 10))
	sb.WriteString(currency)
	sb.WriteString(secret)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
