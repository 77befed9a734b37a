package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
)

// createTransaction handles POST /create-transaction.
func (h *handler) createTransaction(c *gin.Context) {
	var req validation.CreateTransactionRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	params := payments.CreateParams{
		OrderID:         req.OrderID,
		AcceptanceToken: req.AcceptanceToken,
		RedirectURL:     req.RedirectURL,
	}
	if pm := req.PaymentMethod; pm != nil {
		params.PaymentMethod = &gateway.PaymentMethod{
			Type:         pm.Type,
			Token:        pm.Token,
			Installments: pm.Installments,
			PhoneNumber:  pm.PhoneNumber,
		}
	}

	res, err := h.cfg.Payments.Create(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// verifyTransaction handles GET /verify-transaction/:id. It only reads the
// gateway; reconciling is POST /verify-and-finalize.
func (h *handler) verifyTransaction(c *gin.Context) {
	tx, err := h.cfg.Gateway.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}
