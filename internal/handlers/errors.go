package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/reconcile"
	"github.com/imrishuroy/storefront-reconciler/internal/webhook"
)

type errorClass struct {
	status    int
	code      string
	retryable bool
}

// classify maps a domain error to its HTTP response. The first match wins.
func classify(err error) errorClass {
	var ve *payments.ValidationError
	switch {
	case errors.As(err, &ve):
		return errorClass{http.StatusUnprocessableEntity, "validation_failed", false}
	case errors.Is(err, payments.ErrConfiguration),
		errors.Is(err, gateway.ErrNotConfigured),
		errors.Is(err, webhook.ErrMisconfigured):
		return errorClass{http.StatusInternalServerError, "configuration_error", false}
	case errors.Is(err, webhook.ErrSignatureInvalid):
		return errorClass{http.StatusUnauthorized, "signature_invalid", false}
	case errors.Is(err, webhook.ErrStaleRequest):
		return errorClass{http.StatusUnauthorized, "stale_request", false}
	case errors.Is(err, webhook.ErrMalformed):
		return errorClass{http.StatusBadRequest, "malformed_payload", false}
	case errors.Is(err, idempotency.ErrKeyReused):
		return errorClass{http.StatusUnprocessableEntity, "idempotency_key_reused", false}
	case errors.Is(err, payments.ErrAlreadyPaid):
		return errorClass{http.StatusConflict, "already_paid", false}
	case errors.Is(err, payments.ErrNotPayable):
		return errorClass{http.StatusConflict, "not_payable", false}
	case errors.Is(err, reconcile.ErrReferenceMismatch),
		errors.Is(err, orders.ErrReferenceConflict):
		return errorClass{http.StatusConflict, "reference_mismatch", false}
	case errors.Is(err, reconcile.ErrNoTransaction):
		return errorClass{http.StatusNotFound, "no_transaction", true}
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		return errorClass{http.StatusNotFound, "not_found", false}
	case errors.Is(err, gateway.ErrUnavailable):
		return errorClass{http.StatusServiceUnavailable, "gateway_unavailable", true}
	case errors.Is(err, gateway.ErrRejected):
		return errorClass{http.StatusBadGateway, "gateway_rejected", false}
	default:
		return errorClass{http.StatusInternalServerError, "internal_error", true}
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	ec := classify(err)
	_ = c.Error(err)
	c.JSON(ec.status, gin.H{
		"error":     ec.code,
		"detail":    err.Error(),
		"retryable": ec.retryable,
	})
}
