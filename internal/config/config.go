// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

// Config is shared by the api, worker and recover binaries.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	RunLocal bool   `envconfig:"RUN_LOCAL"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`

	Tables        Tables        `envconfig:"TABLE"`
	Gateway       Gateway       `envconfig:"GATEWAY"`
	Notifications Notifications `envconfig:"NOTIFICATIONS"`
	Worker        Worker        `envconfig:"WORKER"`

	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Storefront/Reconciliation"`
}

// ClientOptions reports which optional AWS clients the configuration uses.
func (c Config) ClientOptions() aws.ClientOptions {
	return aws.ClientOptions{
		Queue:   c.Notifications.QueueURL != "",
		Metrics: c.MetricsEnabled,
	}
}

// Tables holds DynamoDB table names.
type Tables struct {
	Orders         string        `envconfig:"ORDERS" required:"true"`
	Idempotency    string        `envconfig:"IDEMPOTENCY" required:"true"`
	Notifications  string        `envconfig:"NOTIFICATIONS" required:"true"`
	Products       string        `envconfig:"PRODUCTS" required:"true"`
	StockLedger    string        `envconfig:"STOCK_LEDGER" required:"true"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
}

// Gateway holds payment gateway credentials. None of the secrets are required
// here: a missing secret is reported when an intent is built or a webhook is
// verified, before any network call.
type Gateway struct {
	BaseURL          string        `envconfig:"BASE_URL" default:"https://sandbox.wompi.co/v1"`
	PublicKey        string        `envconfig:"PUBLIC_KEY"`
	PrivateKey       string        `envconfig:"PRIVATE_KEY"`
	IntegritySecret  string        `envconfig:"INTEGRITY_SECRET"`
	EventsSecret     string        `envconfig:"EVENTS_SECRET"`
	Currency         string        `envconfig:"CURRENCY" default:"COP"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"10s"`
	WebhookTolerance time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
}

// Notifications configures the outbound mail provider and job queue.
type Notifications struct {
	QueueURL   string `envconfig:"QUEUE_URL"`
	AdminEmail string `envconfig:"ADMIN_EMAIL"`
	MailAPIURL string `envconfig:"MAIL_API_URL"`
	MailAPIKey string `envconfig:"MAIL_API_KEY"`
	MailFrom   string `envconfig:"MAIL_FROM" default:"orders@storefront.local"`
}

// Worker configures the notification delivery loop.
type Worker struct {
	Mode         string        `envconfig:"MODE" default:"lambda"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	LeaseTimeout time.Duration `envconfig:"LEASE_TIMEOUT" default:"2m"`
	MaxAttempts  int           `envconfig:"MAX_ATTEMPTS" default:"6"`
	BackoffBase  time.Duration `envconfig:"BACKOFF_BASE" default:"30s"`
	BackoffMax   time.Duration `envconfig:"BACKOFF_MAX" default:"1h"`
	Concurrency  int           `envconfig:"CONCURRENCY" default:"4"`
	BatchSize    int32         `envconfig:"BATCH_SIZE" default:"25"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, fmt.Errorf("load config: WORKER_MAX_ATTEMPTS must be >= 1, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.LeaseTimeout <= 0 {
		return cfg, fmt.Errorf("load config: WORKER_LEASE_TIMEOUT must be positive, got %s", cfg.Worker.LeaseTimeout)
	}
	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}
	return cfg, nil
}
