package main

import (
	"context"
	"fmt"

	"github.com/dukex/inkwell/pkg/coordinator"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/progress"
	cli "github.com/urfave/cli/v3"
)

// SweepCommand fails running rows nobody has touched within the stale
// window. It is meant for cron jobs next to API instances; a fresh process
// owns no executions, so only orphans are affected.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Fail stale executions once and exit",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Inactivity after which a running execution is failed (overrides the config file)",
				Sources: cli.EnvVars("STALE_AFTER"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			b, err := newBase(ctx, command, "sweep")
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			cfg, err := b.file.CoordinatorConfig(coordinator.DefaultConfig())
			if err != nil {
				return err
			}

			if staleAfter := command.Duration("stale-after"); staleAfter > 0 {
				cfg.StaleAfter = staleAfter
			}

			executions := b.persistence.ExecutionRepository()

			coord, err := coordinator.New(cfg, executions, nil,
				progress.NewAggregator(executions, b.logger), nil,
				ledger.New(b.persistence.LedgerRepository(), b.file.PricingTable(), nil, b.logger), b.logger)
			if err != nil {
				return err
			}

			swept, err := coord.Sweep(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "%d stale executions failed\n", swept)

			return nil
		},
	}
}
