package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/imrishuroy/storefront-reconciler/internal/app"
	"github.com/imrishuroy/storefront-reconciler/internal/notifications"
)

type builder func(ctx context.Context) (*app.App, error)

func newCLI(build builder, out io.Writer) *cli.App {
	withApp := func(action func(c *cli.Context, a *app.App) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			a, err := build(c.Context)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			return action(c, a)
		}
	}
	emit := func(v interface{}) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	return &cli.App{
		Name:   "recover",
		Usage:  "reconcile orders and notifications by hand",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:  "reconcile",
				Usage: "re-read the gateway transaction for a reference and apply it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Required: true},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					out, err := a.Coordinator.HandleOperatorRecovery(c.Context, c.String("reference"))
					if err != nil {
						return err
					}
					return emit(out)
				}),
			},
			{
				Name:  "finalize",
				Usage: "reconcile an order by id, optionally from a known transaction id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "order", Aliases: []string{"o"}, Required: true},
					&cli.StringFlag{Name: "transaction", Aliases: []string{"t"}},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					out, err := a.Coordinator.HandleClientFinalize(c.Context, c.String("order"), c.String("transaction"))
					if err != nil {
						return err
					}
					return emit(out)
				}),
			},
			{
				Name:  "redrive",
				Usage: "re-run stock and notification effects of an approved order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "order", Aliases: []string{"o"}, Required: true},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					out, err := a.Coordinator.RedriveEffects(c.Context, c.String("order"))
					if err != nil {
						return err
					}
					return emit(out)
				}),
			},
			{
				Name:  "requeue",
				Usage: "move a dead notification job back to pending",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "order", Aliases: []string{"o"}, Required: true},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Required: true, Usage: "admin_new_order or customer_confirmation"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					kind, err := notifications.ParseKind(c.String("kind"))
					if err != nil {
						return err
					}
					if err := a.Dispatcher.Requeue(c.Context, c.String("order"), kind); err != nil {
						return err
					}
					return emit(map[string]string{"jobId": notifications.JobID(c.String("order"), kind), "status": string(notifications.StatusPending)})
				}),
			},
		},
	}
}
