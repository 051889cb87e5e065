package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type appConfig struct {
	gatherer   prometheus.Gatherer
	requestLog bool
}

type AppOption func(*appConfig)

// WithMetricsGatherer serves the gatherer on /metrics.
func WithMetricsGatherer(gatherer prometheus.Gatherer) AppOption {
	return func(c *appConfig) {
		c.gatherer = gatherer
	}
}

func WithRequestLog(enabled bool) AppOption {
	return func(c *appConfig) {
		c.requestLog = enabled
	}
}

// NewApp mounts the execution routes.
func NewApp(handlers *APIHandlers, opts ...AppOption) *fiber.App {
	cfg := appConfig{requestLog: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	app := fiber.New()
	app.Use(cors.New())

	if cfg.requestLog {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", handlers.HealthCheck)

	if cfg.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})))
	}

	e := app.Group("/executions")
	e.Post("/", handlers.SubmitExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Get("/:id/progress", handlers.GetExecutionProgress)
	e.Delete("/:id", handlers.StopExecution)
	e.Post("/:id/regenerate", handlers.RegenerateNode)

	return app
}
