// Command recover is the operator tool for orders whose payment or effects
// did not settle on their own. It runs the same coordinator as the API.
package main

import (
	"context"
	"log"
	"os"

	"github.com/imrishuroy/storefront-reconciler/internal/app"
	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
)

func build(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// operators read the command output, not JSON logs
	logger := logging.New(cfg.LogLevel, false)
	clients, err := aws.NewClients(ctx, cfg.ClientOptions())
	if err != nil {
		return nil, err
	}
	return app.New(cfg, clients, logger), nil
}

func main() {
	if err := newCLI(build, os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
