package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
)

type createOrderResponse struct {
	OrderID       string               `json:"orderId"`
	Reference     string               `json:"reference"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
	OrderStatus   orders.Status        `json:"orderStatus"`
	TotalAmount   orders.Money         `json:"totalAmount"`
	Currency      string               `json:"currency"`
}

// createOrder handles POST /orders. The order and a completed idempotency
// record are written in one transaction; a retried request with the same
// Idempotency-Key and body gets the stored response back.
func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	requestHash := idempotency.Fingerprint(raw)

	if h.replay(c, idempKey, requestHash) {
		return
	}

	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	orderID := uuid.NewString()
	order := req.Order(orderID, h.cfg.Currency)
	body, err := json.Marshal(createOrderResponse{
		OrderID:       orderID,
		Reference:     orders.ReferenceFor(orderID),
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	record := h.cfg.Idempotency.NewDoneRecord(idempKey, orderID, requestHash, http.StatusCreated, string(body))

	err = h.cfg.Orders.CreateWithIdempotencyTransaction(ctx, h.cfg.Idempotency.Table(), record, order)
	if err != nil {
		// a concurrent request with the same key won the transaction
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && h.replay(c, idempKey, requestHash) {
			return
		}
		h.fail(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{"order_id": orderID, "total": order.TotalAmount.String()}).Info("order created")
	c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
	c.Data(http.StatusCreated, "application/json", body)
}

// replay writes the stored response for key and reports whether it did.
func (h *handler) replay(c *gin.Context, key, requestHash string) bool {
	rec, err := h.cfg.Idempotency.Replay(c.Request.Context(), key, requestHash)
	if err != nil {
		h.fail(c, err)
		return true
	}
	if rec == nil {
		return false
	}
	if rec.ResponseBody == "" {
		c.JSON(http.StatusOK, gin.H{"orderId": rec.OrderID})
		return true
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
	return true
}

// getOrder handles GET /orders/:id.
func (h *handler) getOrder(c *gin.Context) {
	o, err := h.cfg.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if o == nil {
		h.fail(c, orders.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, o)
}
