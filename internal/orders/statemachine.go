package orders

import "strings"

// GatewayStatus is a transaction status as reported by the payment gateway.
type GatewayStatus string

const (
	GatewayApproved GatewayStatus = "APPROVED"
	GatewayDeclined GatewayStatus = "DECLINED"
	GatewayError    GatewayStatus = "ERROR"
	GatewayPending  GatewayStatus = "PENDING"
)

// ParseGatewayStatus normalises a raw gateway status. Unrecognised values are
// returned upper-cased and are treated as "no change" by Transition.
func ParseGatewayStatus(s string) GatewayStatus {
	return GatewayStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// Effect is a side effect the coordinator must run after winning a transition.
type Effect string

const (
	EffectDecrementStock Effect = "decrement_stock"
	EffectNotifyAdmin    Effect = "notify_admin"
	EffectNotifyCustomer Effect = "notify_customer"
)

// Plan is the outcome of Transition.
type Plan struct {
	PaymentStatus PaymentStatus
	Status        Status
	Effects       []Effect
	// Changed is false when the stored order must not be written.
	Changed bool
	// Anomaly flags an incoming status that contradicts a settled payment.
	Anomaly bool
}

// Has reports whether the plan carries e.
func (p Plan) Has(e Effect) bool {
	for _, x := range p.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Transition is the order state machine. It performs no I/O.
//
//	pending  + APPROVED         -> approved/processing, all effects
//	pending  + DECLINED|ERROR   -> declined|error/cancelled
//	approved + APPROVED         -> unchanged
//	approved + DECLINED|ERROR   -> unchanged, anomaly
//	declined|error + APPROVED   -> unchanged, anomaly
//	*        + PENDING|unknown  -> unchanged
func Transition(payment PaymentStatus, status Status, incoming GatewayStatus) Plan {
	same := Plan{PaymentStatus: payment, Status: status}

	switch incoming {
	case GatewayApproved:
		switch payment {
		case PaymentPending:
			return Plan{
				PaymentStatus: PaymentApproved,
				Status:        StatusProcessing,
				Effects:       []Effect{EffectDecrementStock, EffectNotifyAdmin, EffectNotifyCustomer},
				Changed:       true,
			}
		case PaymentApproved:
			return same
		default:
			same.Anomaly = true
			return same
		}

	case GatewayDeclined, GatewayError:
		switch payment {
		case PaymentPending:
			next := PaymentDeclined
			if incoming == GatewayError {
				next = PaymentError
			}
			return Plan{PaymentStatus: next, Status: StatusCancelled, Changed: true}
		case PaymentApproved:
			same.Anomaly = true
			return same
		default:
			return same
		}

	default:
		return same
	}
}
