// Package coordinator admits executions, runs them on the graph executor and
// drives every execution row to exactly one terminal status.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/inkwell/pkg/artifact"
	"github.com/dukex/inkwell/pkg/eventbus"
	"github.com/dukex/inkwell/pkg/events"
	"github.com/dukex/inkwell/pkg/graph"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/otelhelper"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/dukex/inkwell/pkg/progress"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const CancelledMessage = "Execution cancelled by user"

// Resolver turns a capability key into the engine it is bound to.
type Resolver interface {
	Resolve(ctx context.Context, apiKey, engineID, userID string) (*models.EngineDefinition, error)
}

type SubmitRequest struct {
	EngineID         string         `json:"engine_id"         validate:"required"`
	UserID           string         `json:"user_id"           validate:"required"`
	APIKey           string         `json:"api_key"           validate:"required"`
	Inputs           map[string]any `json:"inputs"`
	ExecutionContext map[string]any `json:"execution_context"`
}

type activeExecution struct {
	id        string
	userID    string
	engineID  string
	startedAt time.Time
	cancel    context.CancelFunc
}

type Coordinator struct {
	cfg        Config
	executions persistence.ExecutionRepository
	resolver   Resolver
	aggregator *progress.Aggregator
	executor   graph.Executor
	ledger     *ledger.Ledger
	persister  *artifact.Persister
	publisher  eventbus.EventPublisher
	validate   *validator.Validate
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	clock      clockwork.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*activeExecution
	wg     sync.WaitGroup
	cron   *cron.Cron
}

type Option func(*Coordinator)

// WithPersister uploads compiled formats when an execution completes.
func WithPersister(p *artifact.Persister) Option {
	return func(c *Coordinator) {
		c.persister = p
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func New(
	cfg Config,
	executions persistence.ExecutionRepository,
	resolver Resolver,
	aggregator *progress.Aggregator,
	executor graph.Executor,
	debits *ledger.Ledger,
	logger *slog.Logger,
	opts ...Option,
) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:        cfg,
		executions: executions,
		resolver:   resolver,
		aggregator: aggregator,
		executor:   executor,
		ledger:     debits,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    metrics.NewNop(),
		tracer:     otelhelper.NoopTracer(),
		clock:      clockwork.NewRealClock(),
		logger:     logger.With("module", "execution_coordinator"),
		active:     make(map[string]*activeExecution),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Submit admits an execution and starts it in the background. Authorization
// and capacity are checked synchronously; a refused submission never creates
// a record.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "coordinator.submit",
		attribute.String(otelhelper.EngineIDKey, req.EngineID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
	)
	defer span.End()

	if err := c.validate.Struct(req); err != nil {
		c.metrics.Submissions.WithLabelValues("invalid").Inc()

		return "", fmt.Errorf("%w: %w", orchestration.ErrInvalidRequest, err)
	}

	engine, err := c.resolver.Resolve(ctx, req.APIKey, req.EngineID, req.UserID)
	if err != nil {
		label := "error"
		if orchestration.IsAuthorizationFailure(err) {
			label = "unauthorized"
		}

		c.metrics.Submissions.WithLabelValues(label).Inc()
		otelhelper.SetError(span, err)

		return "", err
	}

	id := uuid.NewString()
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, id))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &activeExecution{id: id, userID: req.UserID, engineID: engine.ID, startedAt: c.clock.Now(), cancel: cancel}

	if !c.admit(entry) {
		cancel()
		c.metrics.Submissions.WithLabelValues("capacity_exceeded").Inc()
		c.logger.WarnContext(ctx, "Submission refused, coordinator at capacity", "engine_id", engine.ID, "max_concurrent", c.cfg.MaxConcurrent)

		return "", fmt.Errorf("%w: %d executions already running", orchestration.ErrCapacityExceeded, c.cfg.MaxConcurrent)
	}

	message := "Execution started"
	initial := models.ProgressSnapshot{Message: message}

	record := &models.ExecutionRecord{
		ID:            id,
		UserID:        req.UserID,
		EngineID:      engine.ID,
		Status:        models.ExecutionStatusRunning,
		ExecutionData: initial,
		CreatedAt:     entry.startedAt.UTC(),
		UpdatedAt:     entry.startedAt.UTC(),
	}

	if err := c.executions.Create(ctx, record); err != nil {
		c.release(id)
		cancel()
		c.metrics.Submissions.WithLabelValues("error").Inc()
		otelhelper.SetError(span, err)

		return "", orchestration.NewExecutionError("Submit", id, fmt.Errorf("%w: %w", orchestration.ErrPersistenceFailure, err))
	}

	c.aggregator.Open(id, initial)
	c.metrics.Submissions.WithLabelValues("accepted").Inc()

	started := events.ExecutionStarted{BaseEvent: c.baseEvent(events.ExecutionStartedEvent, entry), TotalNodes: len(engine.Nodes)}
	c.publish(ctx, id, started)

	c.logger.InfoContext(ctx, "Execution admitted", "execution_id", id, "engine_id", engine.ID, "user_id", req.UserID)

	c.wg.Add(1)

	go c.run(runCtx, entry, engine, req)

	return id, nil
}

func (c *Coordinator) admit(entry *activeExecution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active) >= c.cfg.MaxConcurrent {
		return false
	}

	c.active[entry.id] = entry
	c.metrics.ActiveExecutions.Set(float64(len(c.active)))

	return true
}

// release drops the registry entry and reports whether it was still there.
func (c *Coordinator) release(id string) (*activeExecution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.active[id]
	if ok {
		delete(c.active, id)
		c.metrics.ActiveExecutions.Set(float64(len(c.active)))
	}

	return entry, ok
}

func (c *Coordinator) run(ctx context.Context, entry *activeExecution, engine *models.EngineDefinition, req SubmitRequest) {
	defer c.wg.Done()

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "coordinator.execution",
		attribute.String(otelhelper.ExecutionIDKey, entry.id),
		attribute.String(otelhelper.EngineIDKey, entry.engineID),
	)
	defer span.End()

	result, err := c.executor.Execute(ctx, models.ExecuteRequest{
		ExecutionID:      entry.id,
		UserID:           entry.userID,
		Nodes:            engine.ResolvedNodes(),
		Edges:            engine.Edges,
		Inputs:           req.Inputs,
		ExecutionContext: req.ExecutionContext,
	}, c.aggregator.Callback(ctx, entry.id))

	if err != nil {
		otelhelper.SetError(span, err)
	}

	// The entry is gone when Stop or the sweep already finalized the row.
	if _, owned := c.release(entry.id); !owned {
		c.logger.InfoContext(ctx, "Execution returned after being finalized elsewhere", "execution_id", entry.id, "error", err)

		return
	}

	defer entry.cancel()
	defer c.aggregator.Close(context.WithoutCancel(ctx), entry.id)

	c.complete(context.WithoutCancel(ctx), entry, result, err)
}

// complete persists artifacts of a successful run and finalizes the row.
func (c *Coordinator) complete(ctx context.Context, entry *activeExecution, result *models.GraphResult, runErr error) {
	snapshot, _ := c.aggregator.Snapshot(entry.id)

	var formatURLs map[string]string

	if runErr == nil && result != nil && c.persister != nil && len(snapshot.AllFormats) > 0 {
		book, _ := graph.CompiledBook(result.NodeOutputs)

		persisted, err := c.persister.Persist(ctx, artifact.Request{
			ExecutionID: entry.id,
			UserID:      entry.userID,
			Title:       book.Title,
			Formats:     snapshot.AllFormats,
			Content:     book,
			Metadata:    map[string]any{"engine_id": entry.engineID},
		})
		if err != nil {
			runErr = err
		} else {
			formatURLs = persisted.FormatURLs
		}
	}

	status := models.ExecutionStatusCompleted
	message := "Execution completed"
	reason := "success"

	if runErr != nil {
		status = models.ExecutionStatusFailed
		message = runErr.Error()
		reason = "error"
	}

	patch := models.SnapshotPatch{Message: &message}
	if runErr != nil {
		patch.Error = &message
	} else {
		full := 100.0
		patch.Progress = &full
	}

	if next, err := c.aggregator.Patch(ctx, entry.id, patch); err != nil {
		c.logger.WarnContext(ctx, "Failed to record final snapshot", "execution_id", entry.id, "error", err)
	} else {
		snapshot = next
	}

	usage, ok := c.finalize(ctx, entry, status, message, reason, snapshot, result)
	if !ok {
		return
	}

	duration := c.clock.Since(entry.startedAt)

	if runErr == nil {
		event := events.ExecutionCompleted{
			BaseEvent:    c.baseEvent(events.ExecutionCompletedEvent, entry),
			TokensUsed:   usage.Tokens,
			CostEstimate: usage.Cost,
			Duration:     duration,
			FormatURLs:   formatURLs,
		}
		c.publish(ctx, entry.id, event)

		return
	}

	event := events.ExecutionFailed{
		BaseEvent:    c.baseEvent(events.ExecutionFailedEvent, entry),
		Error:        message,
		TokensUsed:   usage.Tokens,
		CostEstimate: usage.Cost,
		Duration:     duration,
	}
	c.publish(ctx, entry.id, event)
}

// finalize moves the row to its terminal status and, only when this call
// made the transition, settles the ledger. It reports whether it did.
func (c *Coordinator) finalize(
	ctx context.Context,
	entry *activeExecution,
	status models.ExecutionStatus,
	message, reason string,
	snapshot models.ProgressSnapshot,
	result *models.GraphResult,
) (ledger.Usage, bool) {
	logger := c.logger.With("execution_id", entry.id, "status", status)
	usage := c.ledger.UsageOf(snapshot, result)
	duration := c.clock.Since(entry.startedAt)

	outcome := models.ExecutionOutcome{
		Status:          status,
		TokensUsed:      usage.Tokens,
		CostEstimate:    usage.Cost,
		ExecutionTimeMs: duration.Milliseconds(),
		CompletedAt:     c.clock.Now().UTC(),
	}

	if status == models.ExecutionStatusFailed {
		outcome.Message = message
	}

	transitioned, err := c.executions.Finish(ctx, entry.id, outcome)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to finish execution", "error", err)

		return usage, false
	}

	if !transitioned {
		logger.InfoContext(ctx, "Execution already terminal, skipping settlement")

		return usage, false
	}

	c.ledger.Settle(ctx, ledger.Settlement{
		ExecutionID: entry.id,
		UserID:      entry.userID,
		EngineID:    entry.engineID,
		Status:      status,
		Snapshot:    snapshot,
		Result:      result,
	})

	c.metrics.Outcomes.WithLabelValues(string(status), reason).Inc()
	c.metrics.ExecutionDuration.Observe(duration.Seconds())

	logger.InfoContext(ctx, "Execution finished", "reason", reason, "tokens", usage.Tokens, "cost", usage.Cost, "duration", duration)

	return usage, true
}

// Stop unregisters the execution, signals the executor to halt and records
// the cancellation as a failure. Provider calls already in flight are not
// aborted.
func (c *Coordinator) Stop(ctx context.Context, executionID string) error {
	entry, ok := c.release(executionID)
	if !ok {
		return orchestration.NewExecutionError("Stop", executionID, orchestration.ErrExecutionNotActive)
	}

	entry.cancel()

	c.abandon(ctx, entry, CancelledMessage, "cancelled")

	event := events.ExecutionCancelled{BaseEvent: c.baseEvent(events.ExecutionCancelledEvent, entry), Reason: CancelledMessage}
	c.publish(ctx, entry.id, event)

	return nil
}

// Authorize checks that apiKey is the key of the engine the execution is
// bound to and, when userID is set, that the execution belongs to userID.
// Callers acting on an existing execution go through it before Stop or a
// regeneration.
func (c *Coordinator) Authorize(ctx context.Context, apiKey, executionID, userID string) (*models.ExecutionRecord, error) {
	record, err := c.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if userID != "" && record.UserID != userID {
		return nil, orchestration.NewExecutionError("Authorize", executionID,
			fmt.Errorf("%w: execution belongs to another user", orchestration.ErrAuthorizationFailure))
	}

	if c.resolver == nil {
		return nil, orchestration.NewExecutionError("Authorize", executionID,
			fmt.Errorf("%w: no engine resolver configured", orchestration.ErrAuthorizationFailure))
	}

	if _, err := c.resolver.Resolve(ctx, apiKey, record.EngineID, record.UserID); err != nil {
		return nil, orchestration.NewExecutionError("Authorize", executionID, err)
	}

	return record, nil
}

// abandon finalizes an execution whose executor is not awaited anymore.
func (c *Coordinator) abandon(ctx context.Context, entry *activeExecution, message, reason string) bool {
	snapshot, _ := c.aggregator.Patch(ctx, entry.id, models.SnapshotPatch{Message: &message, Error: &message})
	c.aggregator.Close(ctx, entry.id)

	_, ok := c.finalize(ctx, entry, models.ExecutionStatusFailed, message, reason, snapshot, nil)

	return ok
}

// Get reads the execution row, which is the source of truth.
func (c *Coordinator) Get(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	return c.executions.GetByID(ctx, executionID)
}

// Progress returns the live or cached snapshot of a running execution, or the
// stored one otherwise.
func (c *Coordinator) Progress(ctx context.Context, executionID string) (models.ProgressSnapshot, error) {
	if snapshot, ok := c.aggregator.Lookup(ctx, executionID); ok {
		return snapshot, nil
	}

	record, err := c.executions.GetByID(ctx, executionID)
	if err != nil {
		return models.ProgressSnapshot{}, err
	}

	return record.ExecutionData, nil
}

// Active lists the executions registered with this instance.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Start schedules the stale sweep.
func (c *Coordinator) Start(ctx context.Context) error {
	c.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.cron.AddFunc(c.cfg.SweepSchedule, func() {
		if _, err := c.Sweep(ctx); err != nil {
			c.logger.ErrorContext(ctx, "Stale sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.cron.Start()
	c.logger.InfoContext(ctx, "Coordinator started",
		"max_concurrent", c.cfg.MaxConcurrent, "stale_after", c.cfg.StaleAfter, "sweep_schedule", c.cfg.SweepSchedule)

	return nil
}

// Shutdown stops the sweep and waits for running executions until ctx ends.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d executions still running at shutdown: %w", len(c.Active()), ctx.Err())
	}
}

func (c *Coordinator) baseEvent(eventType events.EventType, entry *activeExecution) events.BaseEvent {
	base := events.NewBaseEvent(eventType, entry.id)
	base.UserID = entry.userID
	base.EngineID = entry.engineID

	return base
}

func (c *Coordinator) publish(ctx context.Context, executionID string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, executionID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish lifecycle event", "execution_id", executionID, "event_type", event.GetType(), "error", err)
	}
}
