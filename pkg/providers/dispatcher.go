package providers

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Fallback builds the provider used for a name nobody registered.
type Fallback func(name string) Provider

// Dispatcher resolves provider names to registered providers.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	fallback  Fallback
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithFallback replaces the generic chat-completion fallback.
func WithFallback(fallback Fallback) DispatcherOption {
	return func(d *Dispatcher) {
		d.fallback = fallback
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithRateLimit caps the request rate to one provider. Callers wait for a
// token; they are never rejected.
func WithRateLimit(name string, perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiters[normalizeName(name)] = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
		fallback:  Generic,
		metrics:   metrics.NewNop(),
		tracer:    otelhelper.NoopTracer(),
		logger:    logger.With("module", "provider_dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Dispatcher) Register(provider Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.providers[normalizeName(provider.Name())] = provider
}

// Resolve returns the registered provider or the fallback for the name. The
// fallback instance is cached so later calls share it.
func (d *Dispatcher) Resolve(name string) Provider {
	key := normalizeName(name)

	d.mu.RLock()
	provider, ok := d.providers[key]
	d.mu.RUnlock()

	if ok {
		return provider
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if provider, ok := d.providers[key]; ok {
		return provider
	}

	d.logger.Warn("Unknown provider, using generic chat completion", "provider", key)

	provider = d.fallback(key)
	d.providers[key] = provider

	return provider
}

// Generate performs exactly one call. Failures come back as *CallError and
// match orchestration.ErrProviderError.
func (d *Dispatcher) Generate(ctx context.Context, provider, model string, messages []Message, opts Options) (Response, error) {
	name := normalizeName(provider)
	backend := d.Resolve(name)

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "provider.generate",
		attribute.String(otelhelper.ProviderKey, name),
		attribute.String(otelhelper.ModelKey, model),
	)
	defer span.End()

	if limiter := d.limiter(name); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			d.metrics.ProviderCalls.WithLabelValues(name, "error").Inc()
			otelhelper.SetError(span, err)

			return Response{}, &CallError{Provider: name, Model: model, Err: err}
		}
	}

	start := time.Now()
	resp, err := backend.Generate(ctx, Request{Model: model, Messages: messages, Options: opts})
	d.metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.ProviderCalls.WithLabelValues(name, "error").Inc()
		otelhelper.SetError(span, err)
		d.logger.ErrorContext(ctx, "Provider call failed", "provider", name, "model", model, "error", err)

		return Response{}, &CallError{Provider: name, Model: model, Err: err}
	}

	d.metrics.ProviderCalls.WithLabelValues(name, "ok").Inc()

	if resp.Provider == "" {
		resp.Provider = name
	}

	if resp.Model == "" {
		resp.Model = model
	}

	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	span.SetAttributes(attribute.Int64("inkwell.tokens", resp.Usage.TotalTokens))

	return resp, nil
}

func (d *Dispatcher) limiter(name string) *rate.Limiter {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.limiters[name]
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
