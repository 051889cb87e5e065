package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/providers"
	"go.opentelemetry.io/otel/trace"
)

type ProviderConfig struct {
	OpenAIKey    string
	AnthropicKey string
	AnthropicURL string
	OllamaURL    string
	// RateLimits is "name=perSecond:burst" pairs separated by commas.
	RateLimits string
}

type RateLimit struct {
	Provider  string
	PerSecond float64
	Burst     int
}

// ParseRateLimits reads "openai=5:10,anthropic=0.5:1".
func ParseRateLimits(raw string) ([]RateLimit, error) {
	var limits []RateLimit

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, spec, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid rate limit %q: expected name=perSecond:burst", part)
		}

		rateSpec, burstSpec, ok := strings.Cut(spec, ":")
		if !ok {
			burstSpec = "1"
		}

		perSecond, err := strconv.ParseFloat(strings.TrimSpace(rateSpec), 64)
		if err != nil || perSecond <= 0 {
			return nil, fmt.Errorf("invalid rate for %s: %q", name, rateSpec)
		}

		burst, err := strconv.Atoi(strings.TrimSpace(burstSpec))
		if err != nil || burst < 1 {
			return nil, fmt.Errorf("invalid burst for %s: %q", name, burstSpec)
		}

		limits = append(limits, RateLimit{Provider: strings.TrimSpace(name), PerSecond: perSecond, Burst: burst})
	}

	return limits, nil
}

// NewDispatcher registers the providers that have credentials. Ollama is
// always available; unknown names fall back to a generic chat completion.
func NewDispatcher(cfg ProviderConfig, m *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) (*providers.Dispatcher, error) {
	limits, err := ParseRateLimits(cfg.RateLimits)
	if err != nil {
		return nil, err
	}

	opts := []providers.DispatcherOption{providers.WithMetrics(m), providers.WithTracer(tracer)}
	for _, limit := range limits {
		opts = append(opts, providers.WithRateLimit(limit.Provider, limit.PerSecond, limit.Burst))
	}

	dispatcher := providers.NewDispatcher(logger, opts...)

	if cfg.OpenAIKey != "" {
		dispatcher.Register(providers.NewOpenAI(cfg.OpenAIKey))
	}

	if cfg.AnthropicKey != "" {
		dispatcher.Register(providers.NewAnthropic(cfg.AnthropicKey, cfg.AnthropicURL))
	}

	dispatcher.Register(providers.NewOllama(cfg.OllamaURL))

	return dispatcher, nil
}
