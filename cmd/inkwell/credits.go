package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"
)

func CreditsCommand() *cli.Command {
	userFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Usage:    "User id",
			Required: true,
		}
	}

	return &cli.Command{
		Name:  "credits",
		Usage: "Inspect and grant token credits",
		Commands: []*cli.Command{
			{
				Name:  "balance",
				Usage: "Print a user's token balance",
				Flags: []cli.Flag{userFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					b, err := newBase(ctx, command, "credits")
					if err != nil {
						return err
					}
					defer b.Close(ctx)

					balance, err := b.persistence.LedgerRepository().Balance(ctx, command.String("user"))
					if err != nil {
						return err
					}

					fmt.Fprintf(command.Root().Writer, "%s: %d tokens\n", command.String("user"), balance)

					return nil
				},
			},
			{
				Name:  "grant",
				Usage: "Add tokens to a user's balance",
				Flags: []cli.Flag{
					userFlag(),
					&cli.Int64Flag{
						Name:     "amount",
						Aliases:  []string{"a"},
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					amount := command.Int64("amount")
					if amount <= 0 {
						return fmt.Errorf("amount must be positive, got %d", amount)
					}

					b, err := newBase(ctx, command, "credits")
					if err != nil {
						return err
					}
					defer b.Close(ctx)

					ledgerRepo := b.persistence.LedgerRepository()
					if err := ledgerRepo.Credit(ctx, command.String("user"), amount); err != nil {
						return err
					}

					balance, err := ledgerRepo.Balance(ctx, command.String("user"))
					if err != nil {
						return err
					}

					b.logger.InfoContext(ctx, "Credits granted", "user_id", command.String("user"), "amount", amount)
					fmt.Fprintf(command.Root().Writer, "%s: %d tokens\n", command.String("user"), balance)

					return nil
				},
			},
		},
	}
}
