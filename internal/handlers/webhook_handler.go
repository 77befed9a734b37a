package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/validation"
	"github.com/imrishuroy/storefront-reconciler/internal/webhook"
)

// handleWebhook handles POST /webhook. The signature is checked over the body bytes
// exactly as received.
func (h *handler) handleWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}

	ev, err := h.cfg.Verifier.Verify(c.GetHeader(webhook.SignatureHeader), c.GetHeader(webhook.TimestampHeader), raw)
	if err != nil {
		if errors.Is(err, webhook.ErrSignatureInvalid) || errors.Is(err, webhook.ErrStaleRequest) {
			h.log.WithError(err).WithField("remoteAddr", c.ClientIP()).Warn("webhook rejected")
		}
		h.fail(c, err)
		return
	}

	out, err := h.cfg.Reconciler.HandleWebhook(c.Request.Context(), ev)
	if err != nil {
		// non-2xx makes the gateway redeliver
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": out})
}

// verifyAndFinalize handles POST /verify-and-finalize. The status is always
// re-read from the gateway; nothing in the request body is trusted beyond ids.
func (h *handler) verifyAndFinalize(c *gin.Context) {
	var req validation.FinalizeRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	out, err := h.cfg.Reconciler.HandleClientFinalize(c.Request.Context(), req.OrderID, req.TransactionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
