package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/inkwell/pkg/config"
	"github.com/dukex/inkwell/pkg/engines"
	cli "github.com/urfave/cli/v3"
)

func EnginesCommand() *cli.Command {
	return &cli.Command{
		Name:    "engines",
		Aliases: []string{"e"},
		Usage:   "Manage engine definitions",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Validate an engine document and bind it to a key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Engine document (YAML or JSON)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "Engine key to bind; generated when empty",
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					b, err := newBase(ctx, command, "engines")
					if err != nil {
						return err
					}
					defer b.Close(ctx)

					engine, err := config.LoadEngine(command.String("file"))
					if err != nil {
						return err
					}

					key := command.String("key")
					if key == "" {
						key = engines.GenerateKey()
					}

					service := engines.NewService(b.persistence.EngineRepository(), b.logger)
					if err := service.Import(ctx, engine, key); err != nil {
						return err
					}

					fmt.Fprintf(command.Root().Writer, "engine %s imported for user %s\nkey: %s\n", engine.ID, engine.UserID, key)

					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check every stored engine against the graph schema",
				Action: func(ctx context.Context, command *cli.Command) error {
					b, err := newBase(ctx, command, "engines")
					if err != nil {
						return err
					}
					defer b.Close(ctx)

					service := engines.NewService(b.persistence.EngineRepository(), b.logger)

					failures, err := service.ValidateAll(ctx)
					if err != nil {
						return err
					}

					ids := make([]string, 0, len(failures))
					for id := range failures {
						ids = append(ids, id)
					}

					sort.Strings(ids)

					for _, id := range ids {
						fmt.Fprintf(command.Root().Writer, "%s: %v\n", id, failures[id])
					}

					if len(failures) > 0 {
						return fmt.Errorf("%d invalid engines", len(failures))
					}

					fmt.Fprintln(command.Root().Writer, "all engines valid")

					return nil
				},
			},
		},
	}
}
