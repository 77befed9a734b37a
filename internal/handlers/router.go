// Package handlers exposes the checkout, payment and reconciliation HTTP API.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/reconcile"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
	"github.com/imrishuroy/storefront-reconciler/internal/webhook"
)

// OrderStore is the subset of orders.Store used by the checkout routes.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order orders.Order) error
}

type IntentService interface {
	Create(ctx context.Context, p payments.CreateParams) (payments.Result, error)
}

type Reconciler interface {
	HandleWebhook(ctx context.Context, ev webhook.Event) (reconcile.Outcome, error)
	HandleClientFinalize(ctx context.Context, orderID, transactionID string) (reconcile.Outcome, error)
}

type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (gateway.Transaction, error)
}

// HandlerConfig groups dependencies for the routes.
type HandlerConfig struct {
	Orders      OrderStore
	Idempotency *idempotency.Store
	Payments    IntentService
	Verifier    *webhook.Verifier
	Reconciler  Reconciler
	Gateway     TransactionReader
	// Currency is applied to checkouts that do not name one.
	Currency string
	Log      logrus.FieldLogger
}

type handler struct {
	cfg      HandlerConfig
	validate *validatorv10.Validate
	log      logrus.FieldLogger
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Log != nil {
		r.Use(logging.Middleware(cfg.Log))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers the order, payment and webhook routes on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	h := &handler{cfg: cfg, validate: validation.New(), log: cfg.Log}

	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.POST("/create-transaction", h.createTransaction)
	r.GET("/verify-transaction/:id", h.verifyTransaction)
	r.POST("/verify-and-finalize", h.verifyAndFinalize)
	r.POST("/webhook", h.handleWebhook)
}
