// Package graph is a sequential reference executor for engine graphs. It
// runs nodes in topological order, reports progress through the callback
// contract and can replay a single node from a checkpoint.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/otelhelper"
	"github.com/dukex/inkwell/pkg/providers"
	"github.com/dukex/inkwell/pkg/quality"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxRetries = 2

// Executor runs engine graphs.
type Executor interface {
	Execute(ctx context.Context, req models.ExecuteRequest, progress models.ProgressCallback) (*models.GraphResult, error)
	Resume(ctx context.Context, req models.ResumeRequest, progress models.ProgressCallback) (*models.GraphResult, error)
}

type Generator interface {
	Generate(ctx context.Context, provider, model string, messages []providers.Message, opts providers.Options) (providers.Response, error)
}

type QualityChecker interface {
	RunMany(ctx context.Context, names []string, content string, gctx quality.Context, opts quality.Options) (quality.Report, error)
}

type Engine struct {
	generator  Generator
	checker    QualityChecker
	pricing    ledger.Pricing
	maxRetries int
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Engine)

// WithMaxRetries bounds inline quality retries per generate node.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func New(generator Generator, checker QualityChecker, pricing ledger.Pricing, logger *slog.Logger, opts ...Option) *Engine {
	if pricing == nil {
		pricing = ledger.DefaultPricing()
	}

	e := &Engine{
		generator:  generator,
		checker:    checker,
		pricing:    pricing,
		maxRetries: defaultMaxRetries,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "graph_executor"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs every node. On failure the partial result is returned along
// with the error so incurred usage can still be billed.
func (e *Engine) Execute(ctx context.Context, req models.ExecuteRequest, progress models.ProgressCallback) (*models.GraphResult, error) {
	order, err := TopoSort(req.Nodes, req.Edges)
	if err != nil {
		return nil, err
	}

	r := newRun(req.ExecutionID, req.Edges, order, progress)
	r.inputs = cloneMap(req.Inputs)
	r.story = cloneMap(req.ExecutionContext)

	e.logger.InfoContext(ctx, "Executing graph", "execution_id", req.ExecutionID, "nodes", len(order))

	return e.runNodes(ctx, r, nil)
}

// Resume replays TargetNodeID and everything downstream of it. Other nodes
// keep their checkpointed outputs.
func (e *Engine) Resume(ctx context.Context, req models.ResumeRequest, progress models.ProgressCallback) (*models.GraphResult, error) {
	order, err := TopoSort(req.Nodes, req.Edges)
	if err != nil {
		return nil, err
	}

	if !containsNode(order, req.TargetNodeID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, req.TargetNodeID)
	}

	cp, err := decodeCheckpoint(req.Checkpoint)
	if err != nil {
		return nil, err
	}

	r := newRun(req.ExecutionID, req.Edges, order, progress)
	r.inputs = cp.Inputs
	r.outputs = cp.NodeOutputs
	r.completed = cp.CompletedNodes
	r.sequence = cp.Sequence
	r.story = cloneMap(req.StoryContext)
	r.target = req.TargetNodeID
	r.attempt = req.Attempt
	r.validationError = req.ValidationError

	e.logger.InfoContext(ctx, "Resuming graph", "execution_id", req.ExecutionID, "node_id", req.TargetNodeID, "attempt", req.Attempt)

	return e.runNodes(ctx, r, Descendants(req.TargetNodeID, req.Edges))
}

func (e *Engine) runNodes(ctx context.Context, r *run, only map[string]bool) (*models.GraphResult, error) {
	for _, node := range r.order {
		if only != nil && !only[node.ID] {
			continue
		}

		if err := ctx.Err(); err != nil {
			return r.result(), fmt.Errorf("execution halted before node %s: %w", node.ID, err)
		}

		if err := e.runNode(ctx, r, node); err != nil {
			return r.result(), err
		}
	}

	return r.result(), nil
}

func (e *Engine) runNode(ctx context.Context, r *run, node models.Node) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "graph.node",
		attribute.String(otelhelper.ExecutionIDKey, r.executionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	sequence := r.nextSequence()
	r.emit(r.baseUpdate(node, sequence, string(models.StepStatusRunning)))

	out, err := e.dispatch(ctx, r, node)
	if err != nil {
		otelhelper.SetError(span, err)
		e.logger.ErrorContext(ctx, "Node failed", "execution_id", r.executionID, "node_id", node.ID, "error", err)

		message := err.Error()
		update := r.baseUpdate(node, sequence, string(models.StepStatusFailed))
		update.Tokens = out.usage.TotalTokens
		update.Cost = out.cost
		update.Patch = &models.SnapshotPatch{Error: &message}

		var qualityErr *QualityError
		if errors.As(err, &qualityErr) {
			update.Patch.LastValidationError = map[string]any{node.ID: qualityErr.Detail()}
		}

		r.record(node, out, false)
		r.emit(update)

		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	r.record(node, out, true)

	update := r.baseUpdate(node, sequence, string(models.StepStatusCompleted))
	update.Output = out.output
	update.Tokens = out.usage.TotalTokens
	update.Words = out.words
	update.Cost = out.cost
	update.Provider = out.provider
	update.Model = out.model
	update.Patch = &models.SnapshotPatch{
		CheckpointData: r.checkpoint(node.ID),
		StoryContext:   cloneMap(r.story),
		AllFormats:     out.formats,
	}

	r.emit(update)

	return nil
}

func (e *Engine) dispatch(ctx context.Context, r *run, node models.Node) (nodeOutput, error) {
	switch node.Type {
	case models.NodeTypeInput:
		return nodeOutput{output: cloneMap(r.inputs)}, nil
	case models.NodeTypeGenerate:
		return e.generate(ctx, r, node)
	case models.NodeTypeOutline:
		return e.outline(ctx, r, node)
	case models.NodeTypeCompile:
		return e.compile(r, node)
	case models.NodeTypeOutput:
		return e.output(r, node), nil
	default:
		return nodeOutput{}, fmt.Errorf("unsupported node type %q", node.Type)
	}
}

func containsNode(nodes []models.Node, id string) bool {
	for _, node := range nodes {
		if node.ID == id {
			return true
		}
	}

	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return maps.Clone(m)
}
