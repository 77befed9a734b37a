package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/storefront-reconciler/internal/app"
	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
)

// WORKER_MODE selects the hosting:
//
//	lambda  SQS-triggered Lambda, one delivery per wake-up message
//	sweep   scheduled Lambda, delivers one batch of due jobs per invocation
//	poll    long-running loop until SIGINT/SIGTERM
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogJSON)

	clients, err := aws.NewClients(context.Background(), cfg.ClientOptions())
	if err != nil {
		logger.WithError(err).Fatal("failed to init aws clients")
	}
	a := app.New(cfg, clients, logger)

	switch cfg.Worker.Mode {
	case "lambda":
		lambda.Start(NewProcessor(a.Dispatcher, logger).Handle)
	case "sweep":
		lambda.Start(func(ctx context.Context) error {
			n, err := a.Worker.RunOnce(ctx)
			logger.WithField("jobs", n).Info("sweep finished")
			return err
		})
	case "poll":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := a.Worker.Run(ctx); err != nil {
			logger.WithError(err).Fatal("worker stopped")
		}
	default:
		logger.WithField("mode", cfg.Worker.Mode).Fatal("unknown WORKER_MODE, want lambda, sweep or poll")
	}
}
