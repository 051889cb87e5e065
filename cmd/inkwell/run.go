package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/inkwell/pkg/artifact"
	"github.com/dukex/inkwell/pkg/cmd"
	"github.com/dukex/inkwell/pkg/coordinator"
	"github.com/dukex/inkwell/pkg/engines"
	"github.com/dukex/inkwell/pkg/eventbus"
	"github.com/dukex/inkwell/pkg/events"
	"github.com/dukex/inkwell/pkg/graph"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/otelhelper"
	"github.com/dukex/inkwell/pkg/progress"
	"github.com/dukex/inkwell/pkg/quality"
	"github.com/dukex/inkwell/pkg/regeneration"
	"github.com/dukex/inkwell/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the execution API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Lifecycle event bus (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "storage-url",
				Usage:   "Artifact storage: gs://bucket or file://dir[#bucket]",
				Value:   "file://./data/artifacts",
				Sources: cli.EnvVars("STORAGE_URL"),
			},
			&cli.StringFlag{
				Name:    "public-base-url",
				Usage:   "Base URL for locally stored artifacts",
				Sources: cli.EnvVars("PUBLIC_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "gcs-credentials",
				Usage:   "Service account key file for Google Cloud Storage",
				Sources: cli.EnvVars("GOOGLE_APPLICATION_CREDENTIALS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the progress snapshot cache",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "anthropic-api-key",
				Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "anthropic-url",
				Sources: cli.EnvVars("ANTHROPIC_URL"),
			},
			&cli.StringFlag{
				Name:    "ollama-url",
				Sources: cli.EnvVars("OLLAMA_URL"),
			},
			&cli.StringFlag{
				Name:    "rate-limits",
				Usage:   "Provider rate limits, e.g. openai=5:10,anthropic=1:2",
				Sources: cli.EnvVars("PROVIDER_RATE_LIMITS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Executions admitted at once (overrides the config file)",
				Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Inactivity after which the sweep fails an execution (overrides the config file)",
				Sources: cli.EnvVars("STALE_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			b, err := newBase(ctx, command, "api")
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			return runAPI(ctx, command, b)
		},
	}
}

func newTracer(ctx context.Context, enabled bool) (trace.Tracer, error) {
	if !enabled {
		return otelhelper.NoopTracer(), nil
	}

	return otelhelper.NewTracer(ctx, "inkwell")
}

func coordinatorConfig(command *cli.Command, b *base) (coordinator.Config, error) {
	cfg, err := b.file.CoordinatorConfig(coordinator.DefaultConfig())
	if err != nil {
		return cfg, err
	}

	if n := command.Int("max-concurrent"); n > 0 {
		cfg.MaxConcurrent = n
	}

	if staleAfter := command.Duration("stale-after"); staleAfter > 0 {
		cfg.StaleAfter = staleAfter
	}

	return cfg, cfg.Validate()
}

func runAPI(ctx context.Context, command *cli.Command, b *base) error {
	logger := b.logger

	logger.InfoContext(ctx, "Initializing Inkwell API")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.New(registry)

	tracer, err := newTracer(ctx, command.Bool("tracing"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if err := subscribeAuditLog(ctx, eventBus, b); err != nil {
		return err
	}

	objects, err := cmd.NewObjectStore(ctx, command.String("storage-url"), b.file.Artifacts.Bucket, publicBaseURL(command, b), command.String("gcs-credentials"), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := objects.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close object storage", "error", err)
		}
	}()

	rateLimits := command.String("rate-limits")
	if rateLimits == "" {
		rateLimits = b.file.RateLimitSpec()
	}

	dispatcher, err := cmd.NewDispatcher(cmd.ProviderConfig{
		OpenAIKey:    command.String("openai-api-key"),
		AnthropicKey: command.String("anthropic-api-key"),
		AnthropicURL: command.String("anthropic-url"),
		OllamaURL:    command.String("ollama-url"),
		RateLimits:   rateLimits,
	}, m, tracer, logger)
	if err != nil {
		return err
	}

	aggregatorOpts := []progress.Option{}

	cache, err := cmd.NewSnapshotCache(ctx, command.String("redis-url"), logger)
	if err != nil {
		return err
	}

	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close snapshot cache", "error", err)
			}
		}()

		aggregatorOpts = append(aggregatorOpts, progress.WithCache(cache))
	}

	pricing := b.file.PricingTable()
	executions := b.persistence.ExecutionRepository()
	aggregator := progress.NewAggregator(executions, logger, aggregatorOpts...)
	debits := ledger.New(b.persistence.LedgerRepository(), pricing, m, logger)
	persister := artifact.NewPersister(objects.Storage, b.persistence.BookRepository(), objects.Bucket, logger,
		artifact.WithMetrics(m), artifact.WithTracer(tracer))
	executor := graph.New(dispatcher, quality.NewEngine(logger, m), pricing, logger, graph.WithTracer(tracer))

	cfg, err := coordinatorConfig(command, b)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(cfg, executions, engines.NewService(b.persistence.EngineRepository(), logger),
		aggregator, executor, debits, logger,
		coordinator.WithPersister(persister),
		coordinator.WithPublisher(eventBus),
		coordinator.WithMetrics(m),
		coordinator.WithTracer(tracer),
	)
	if err != nil {
		return err
	}

	regenerator := regeneration.NewController(executions, b.persistence.EngineRepository(), aggregator, executor, debits, logger,
		regeneration.WithPersister(persister),
		regeneration.WithPublisher(eventBus),
		regeneration.WithMetrics(m),
		regeneration.WithTracer(tracer),
	)

	if err := coord.Start(ctx); err != nil {
		return err
	}

	handlers := web.NewAPIHandlers(coord, regenerator, b.persistence, validator.New(validator.WithRequiredStructEnabled()))
	app := web.NewApp(handlers, web.WithMetricsGatherer(registry))

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "Inkwell API listening", "port", command.Int("port"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.InfoContext(ctx, "Received shutdown signal", "signal", sig)
	case err := <-listenErr:
		if err != nil {
			logger.ErrorContext(ctx, "API server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
	}

	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.WarnContext(ctx, "Executions left running; the stale sweep will fail them", "error", err)
	}

	return nil
}

func publicBaseURL(command *cli.Command, b *base) string {
	if url := command.String("public-base-url"); url != "" {
		return url
	}

	return b.file.Artifacts.PublicBaseURL
}

// subscribeAuditLog writes every lifecycle event to the log.
func subscribeAuditLog(ctx context.Context, bus eventbus.EventBus, b *base) error {
	logger := b.logger.With("module", "lifecycle_audit")

	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
		events.ExecutionTimedOutEvent,
		events.NodeRegeneratedEvent,
	} {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			logger.InfoContext(ctx, "Lifecycle event", "event_type", eventType, "event", event)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return bus.Subscribe(ctx)
}
