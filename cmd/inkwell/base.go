package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/inkwell/pkg/cmd"
	"github.com/dukex/inkwell/pkg/config"
	"github.com/dukex/inkwell/pkg/log"
	"github.com/dukex/inkwell/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// base holds what every command needs: logging, the config file and
// persistence.
type base struct {
	logger      *slog.Logger
	file        config.File
	persistence persistence.Persistence
}

func newBase(ctx context.Context, command *cli.Command, module string) (*base, error) {
	log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule(module)

	file, err := config.LoadOrDefault(command.String("config"))
	if err != nil {
		return nil, err
	}

	if err := config.Validate(file); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", command.String("config"), err)
	}

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	return &base{logger: logger, file: file, persistence: p}, nil
}

func (b *base) Close(ctx context.Context) {
	if err := b.persistence.Close(ctx); err != nil {
		b.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
