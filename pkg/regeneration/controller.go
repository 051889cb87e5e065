// Package regeneration replays a single node of a finished execution from its
// checkpoint, under a per-node attempt cap.
package regeneration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

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
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxAttempts is the number of regenerations allowed per node.
const DefaultMaxAttempts = 3

var (
	// ErrExecutionBusy indicates the execution is still tracked by this
	// process, either running or already being regenerated.
	ErrExecutionBusy = errors.New("execution is busy")

	// ErrNoCheckpoint indicates the execution never saved a checkpoint.
	ErrNoCheckpoint = errors.New("execution has no checkpoint")
)

type Request struct {
	ExecutionID     string `json:"execution_id"     validate:"required"`
	NodeID          string `json:"node_id"          validate:"required"`
	ValidationError string `json:"validation_error"`
	// UserID, when set, must own the execution.
	UserID string `json:"user_id"`
}

type Result struct {
	ExecutionID string                  `json:"execution_id"`
	NodeID      string                  `json:"node_id"`
	Attempt     int                     `json:"attempt"`
	Graph       *models.GraphResult     `json:"result"`
	Snapshot    models.ProgressSnapshot `json:"snapshot"`
	Charged     ledger.Usage            `json:"charged"`
	FormatURLs  map[string]string       `json:"format_urls,omitempty"`
}

type Controller struct {
	executions  persistence.ExecutionRepository
	engines     persistence.EngineRepository
	aggregator  *progress.Aggregator
	executor    graph.Executor
	ledger      *ledger.Ledger
	persister   *artifact.Persister
	publisher   eventbus.EventPublisher
	maxAttempts int
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	clock       clockwork.Clock
	logger      *slog.Logger
}

type Option func(*Controller)

// WithPersister re-uploads artifacts when a regeneration changes the
// compiled formats.
func WithPersister(p *artifact.Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		c.maxAttempts = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func NewController(
	executions persistence.ExecutionRepository,
	engines persistence.EngineRepository,
	aggregator *progress.Aggregator,
	executor graph.Executor,
	debits *ledger.Ledger,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		executions:  executions,
		engines:     engines,
		aggregator:  aggregator,
		executor:    executor,
		ledger:      debits,
		maxAttempts: DefaultMaxAttempts,
		metrics:     metrics.NewNop(),
		tracer:      otelhelper.NoopTracer(),
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "regeneration_controller"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Regenerate replays req.NodeID and everything downstream of it. The attempt
// counter is checked before anything else runs, so a refused call never
// reaches a provider. Usage of the replay is charged as new ledger entries.
func (c *Controller) Regenerate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "regeneration.regenerate",
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, req.NodeID),
	)
	defer span.End()

	logger := c.logger.With("execution_id", req.ExecutionID, "node_id", req.NodeID)

	if req.ExecutionID == "" || req.NodeID == "" {
		return nil, fmt.Errorf("%w: execution id and node id are required", orchestration.ErrInvalidRequest)
	}

	// Claim before reading the row: a concurrent regeneration holds the claim
	// until its attempt and results are persisted.
	if !c.aggregator.Open(req.ExecutionID, models.ProgressSnapshot{}) {
		return nil, orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID, ErrExecutionBusy)
	}
	defer c.aggregator.Close(ctx, req.ExecutionID)

	record, engine, err := c.load(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	snapshot := record.ExecutionData
	attempt := snapshot.RegenerationAttempts[req.NodeID].Count + 1

	if attempt > c.maxAttempts {
		c.metrics.Regenerations.WithLabelValues("limit").Inc()
		logger.WarnContext(ctx, "Regeneration refused", "attempts", attempt-1)

		err := orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID, orchestration.ErrRegenerationLimitExceeded)
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Int(otelhelper.AttemptKey, attempt))

	if err := c.aggregator.Reset(req.ExecutionID, snapshot); err != nil {
		return nil, orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID, err)
	}

	message := fmt.Sprintf("Regenerating node %s (attempt %d of %d)", req.NodeID, attempt, c.maxAttempts)

	_, err = c.aggregator.Patch(ctx, req.ExecutionID, models.SnapshotPatch{
		Message: &message,
		RegenerationAttempts: map[string]models.RegenerationAttempt{
			req.NodeID: {Count: attempt, LastError: req.ValidationError, LastAttemptAt: c.clock.Now().UTC()},
		},
	})
	if err != nil {
		err = orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID, fmt.Errorf("%w: %w", orchestration.ErrPersistenceFailure, err))
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Regenerating node", "attempt", attempt)

	graphResult, runErr := c.executor.Resume(ctx, models.ResumeRequest{
		ExecutionID:     req.ExecutionID,
		UserID:          record.UserID,
		Nodes:           engine.ResolvedNodes(),
		Edges:           engine.Edges,
		Checkpoint:      snapshot.CheckpointData,
		StoryContext:    snapshot.StoryContext,
		TargetNodeID:    req.NodeID,
		Attempt:         attempt,
		ValidationError: req.ValidationError,
	}, c.aggregator.Callback(ctx, req.ExecutionID))

	result := &Result{ExecutionID: req.ExecutionID, NodeID: req.NodeID, Attempt: attempt, Graph: graphResult}

	if graphResult != nil {
		result.Charged = c.charge(ctx, record, req.NodeID, attempt, graphResult.TokenLedger)
	}

	if runErr == nil {
		done := fmt.Sprintf("Node %s regenerated (attempt %d)", req.NodeID, attempt)
		if _, err := c.aggregator.Patch(ctx, req.ExecutionID, models.SnapshotPatch{Message: &done, Error: new(string)}); err != nil {
			logger.WarnContext(ctx, "Failed to record regeneration outcome", "error", err)
		}
	}

	after, _ := c.aggregator.Snapshot(req.ExecutionID)
	result.Snapshot = after

	if runErr == nil && graphResult != nil && c.persister != nil && !reflect.DeepEqual(snapshot.AllFormats, after.AllFormats) {
		urls, err := c.repersist(ctx, record, graphResult, after, req.NodeID, attempt)
		if err != nil {
			runErr = err
		}

		result.FormatURLs = urls
	}

	c.publish(ctx, record, req.NodeID, attempt, result.Charged.Tokens, runErr)

	if runErr != nil {
		c.metrics.Regenerations.WithLabelValues("failure").Inc()
		logger.ErrorContext(ctx, "Regeneration failed", "attempt", attempt, "error", runErr)
		otelhelper.SetError(span, runErr)

		return result, orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID, runErr)
	}

	c.metrics.Regenerations.WithLabelValues("success").Inc()
	logger.InfoContext(ctx, "Node regenerated", "attempt", attempt, "tokens", result.Charged.Tokens)

	return result, nil
}

func (c *Controller) load(ctx context.Context, req Request) (*models.ExecutionRecord, *models.EngineDefinition, error) {
	record, err := c.executions.GetByID(ctx, req.ExecutionID)
	if err != nil {
		return nil, nil, err
	}

	if req.UserID != "" && record.UserID != req.UserID {
		return nil, nil, orchestration.NewExecutionError("Regenerate", req.ExecutionID,
			fmt.Errorf("%w: execution belongs to another user", orchestration.ErrAuthorizationFailure))
	}

	if len(record.ExecutionData.CheckpointData) == 0 {
		return nil, nil, orchestration.NewExecutionError("Regenerate", req.ExecutionID, ErrNoCheckpoint)
	}

	if err := graph.ValidateCheckpoint(record.ExecutionData.CheckpointData); err != nil {
		return nil, nil, orchestration.NewExecutionError("Regenerate", req.ExecutionID, fmt.Errorf("%w: %w", ErrNoCheckpoint, err))
	}

	engine, err := c.engines.GetByID(ctx, record.EngineID)
	if err != nil {
		return nil, nil, err
	}

	if _, ok := engine.Node(req.NodeID); !ok {
		return nil, nil, orchestration.NewNodeError("Regenerate", req.ExecutionID, req.NodeID,
			fmt.Errorf("%w: engine %s has no such node", orchestration.ErrInvalidRequest, engine.ID))
	}

	return record, engine, nil
}

// charge debits the replay's provider calls and adds them to the row's usage
// columns. Failures are logged; they never fail the regeneration.
func (c *Controller) charge(ctx context.Context, record *models.ExecutionRecord, nodeID string, attempt int, calls []models.UsageRecord) ledger.Usage {
	if len(calls) == 0 {
		return ledger.Usage{}
	}

	reason := fmt.Sprintf("regeneration of node %s (attempt %d)", nodeID, attempt)

	charged, err := c.ledger.Charge(ctx, record.ID, record.UserID, record.EngineID, reason, calls)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to charge regeneration", "execution_id", record.ID, "node_id", nodeID, "error", err)
	}

	if charged.Tokens > 0 {
		if err := c.executions.AddUsage(ctx, record.ID, charged.Tokens, charged.Cost); err != nil {
			c.logger.ErrorContext(ctx, "Failed to add regeneration usage", "execution_id", record.ID, "error", err)
		}
	}

	return charged
}

func (c *Controller) repersist(
	ctx context.Context,
	record *models.ExecutionRecord,
	result *models.GraphResult,
	snapshot models.ProgressSnapshot,
	nodeID string,
	attempt int,
) (map[string]string, error) {
	book, _ := graph.CompiledBook(result.NodeOutputs)

	persisted, err := c.persister.Persist(ctx, artifact.Request{
		ExecutionID: record.ID,
		UserID:      record.UserID,
		Title:       book.Title,
		Formats:     snapshot.AllFormats,
		Content:     book,
		Metadata: map[string]any{
			"engine_id":        record.EngineID,
			"regenerated_node": nodeID,
			"attempt":          attempt,
		},
	})
	if err != nil {
		return nil, err
	}

	return persisted.FormatURLs, nil
}

func (c *Controller) publish(ctx context.Context, record *models.ExecutionRecord, nodeID string, attempt int, tokens int64, runErr error) {
	if c.publisher == nil {
		return
	}

	event := events.NodeRegenerated{
		BaseEvent:  events.NewBaseEvent(events.NodeRegeneratedEvent, record.ID),
		NodeID:     nodeID,
		Attempt:    attempt,
		Success:    runErr == nil,
		TokensUsed: tokens,
	}
	event.UserID = record.UserID
	event.EngineID = record.EngineID

	if runErr != nil {
		event.Error = runErr.Error()
	}

	if err := c.publisher.Publish(ctx, record.ID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish regeneration event", "execution_id", record.ID, "error", err)
	}
}
