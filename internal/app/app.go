// Package app wires configuration, AWS clients and the domain services into
// the objects the binaries run.
package app

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/handlers"
	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/inventory"
	"github.com/imrishuroy/storefront-reconciler/internal/notifications"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/reconcile"
	"github.com/imrishuroy/storefront-reconciler/internal/webhook"
)

type App struct {
	Config config.Config
	Log    logrus.FieldLogger

	Orders      *orders.Store
	Idempotency *idempotency.Store
	Gateway     *gateway.Client
	Payments    *payments.Service
	Verifier    *webhook.Verifier
	Ledger      *inventory.Ledger
	Jobs        *notifications.Store
	Dispatcher  *notifications.Dispatcher
	Worker      *notifications.Worker
	Coordinator *reconcile.Coordinator
}

// New builds every service from cfg. Nothing here performs I/O.
func New(cfg config.Config, clients *aws.Clients, log logrus.FieldLogger) *App {
	a := &App{Config: cfg, Log: log}

	a.Orders = orders.NewStore(clients.DynamoDB, cfg.Tables.Orders)
	a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Tables.IdempotencyTTL)
	a.Gateway = gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.PrivateKey, cfg.Gateway.Timeout)
	builder := payments.NewBuilder(cfg.Gateway.IntegritySecret, cfg.Gateway.PublicKey, cfg.Gateway.Currency)
	a.Payments = payments.NewService(a.Orders, a.Gateway, builder, log)
	a.Verifier = webhook.NewVerifier(cfg.Gateway.EventsSecret, cfg.Gateway.WebhookTolerance)
	a.Ledger = inventory.NewLedger(clients.DynamoDB, cfg.Tables.Products, cfg.Tables.StockLedger)

	var metrics *aws.Metrics
	if clients.CloudWatch != nil {
		metrics = aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)
	}

	opts := notifications.Options{
		Orders: a.Orders,
		Policy: notifications.Policy{
			MaxAttempts:  cfg.Worker.MaxAttempts,
			BackoffBase:  cfg.Worker.BackoffBase,
			BackoffMax:   cfg.Worker.BackoffMax,
			LeaseTimeout: cfg.Worker.LeaseTimeout,
		},
		Log: log,
	}
	if metrics != nil {
		opts.Metrics = metrics
	}
	if clients.SQS != nil && cfg.Notifications.QueueURL != "" {
		opts.Publisher = aws.NewPublisher(clients.SQS, cfg.Notifications.QueueURL)
	}

	a.Jobs = notifications.NewStore(clients.DynamoDB, cfg.Tables.Notifications)
	a.Dispatcher = notifications.NewDispatcher(a.Jobs, newSender(cfg.Notifications, cfg.Gateway, log), notifications.NewRenderer(cfg.Notifications.AdminEmail), opts)
	a.Worker = notifications.NewWorker(a.Dispatcher, a.Jobs, cfg.Worker.PollInterval, cfg.Worker.Concurrency, cfg.Worker.BatchSize, log)

	var rm reconcile.Metrics
	if metrics != nil {
		rm = metrics
	}
	a.Coordinator = reconcile.NewCoordinator(a.Orders, a.Gateway, a.Ledger, a.Dispatcher, rm, log)
	return a
}

func newSender(n config.Notifications, g config.Gateway, log logrus.FieldLogger) notifications.Sender {
	if n.MailAPIURL == "" {
		log.Warn("MAIL_API_URL not set, notifications are only logged")
		return notifications.LogSender{Log: log}
	}
	return notifications.NewHTTPSender(n.MailAPIURL, n.MailAPIKey, n.MailFrom, g.Timeout)
}

// Router returns the HTTP API.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.HandlerConfig{
		Orders:      a.Orders,
		Idempotency: a.Idempotency,
		Payments:    a.Payments,
		Verifier:    a.Verifier,
		Reconciler:  a.Coordinator,
		Gateway:     a.Gateway,
		Currency:    a.Config.Gateway.Currency,
		Log:         a.Log,
	})
}
