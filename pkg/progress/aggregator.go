package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/jonboulle/clockwork"
)

// ErrExecutionNotTracked indicates an update arrived for an execution the
// aggregator has not opened.
var ErrExecutionNotTracked = errors.New("execution not tracked by aggregator")

// SnapshotWriter persists the merged snapshot. The persisted row is the source
// of truth; the aggregator only caches it.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, executionID string, snapshot models.ProgressSnapshot) error
}

// SnapshotCache is an optional read-through cache for pollers.
type SnapshotCache interface {
	Put(ctx context.Context, executionID string, snapshot models.ProgressSnapshot) error
	Get(ctx context.Context, executionID string) (models.ProgressSnapshot, bool, error)
	Delete(ctx context.Context, executionID string) error
}

type entry struct {
	mu           sync.Mutex
	snapshot     models.ProgressSnapshot
	lastActivity time.Time
}

// Aggregator keeps one snapshot per execution. Updates for the same execution
// are applied in arrival order under that execution's lock; different
// executions never share state.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*entry
	store   SnapshotWriter
	cache   SnapshotCache
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache mirrors every persisted snapshot into cache.
func WithCache(cache SnapshotCache) Option {
	return func(a *Aggregator) { a.cache = cache }
}

// WithClock overrides the clock used for activity timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Aggregator) { a.clock = clock }
}

func NewAggregator(store SnapshotWriter, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		entries: make(map[string]*entry),
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("module", "progress_aggregator"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Open starts tracking an execution from initial. It reports false and leaves
// the existing entry untouched when the execution is already tracked.
func (a *Aggregator) Open(executionID string, initial models.ProgressSnapshot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.entries[executionID]; exists {
		return false
	}

	a.entries[executionID] = &entry{
		snapshot:     MergeSnapshot(initial, models.SnapshotPatch{}),
		lastActivity: a.clock.Now(),
	}

	return true
}

// Reset replaces the snapshot of a tracked execution without persisting it.
func (a *Aggregator) Reset(executionID string, snapshot models.ProgressSnapshot) error {
	e, ok := a.entry(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotTracked, executionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.snapshot = MergeSnapshot(snapshot, models.SnapshotPatch{})

	return nil
}

// Close stops tracking an execution.
func (a *Aggregator) Close(ctx context.Context, executionID string) {
	a.mu.Lock()
	delete(a.entries, executionID)
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.Delete(ctx, executionID); err != nil {
			a.logger.WarnContext(ctx, "Failed to evict cached snapshot", "execution_id", executionID, "error", err)
		}
	}
}

// Apply merges a callback update and persists the result.
func (a *Aggregator) Apply(ctx context.Context, executionID string, update models.ProgressUpdate) (models.ProgressSnapshot, error) {
	return a.mutate(ctx, executionID, func(prev models.ProgressSnapshot, now time.Time) models.ProgressSnapshot {
		return ApplyUpdate(prev, update, now)
	})
}

// Patch merges an explicit snapshot patch and persists the result.
func (a *Aggregator) Patch(ctx context.Context, executionID string, patch models.SnapshotPatch) (models.ProgressSnapshot, error) {
	return a.mutate(ctx, executionID, func(prev models.ProgressSnapshot, _ time.Time) models.ProgressSnapshot {
		return MergeSnapshot(prev, patch)
	})
}

func (a *Aggregator) mutate(
	ctx context.Context,
	executionID string,
	fn func(models.ProgressSnapshot, time.Time) models.ProgressSnapshot,
) (models.ProgressSnapshot, error) {
	e, ok := a.entry(executionID)
	if !ok {
		return models.ProgressSnapshot{}, fmt.Errorf("%w: %s", ErrExecutionNotTracked, executionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := a.clock.Now()
	next := fn(e.snapshot, now)

	e.snapshot = next
	e.lastActivity = now

	if err := a.store.SaveSnapshot(ctx, executionID, next); err != nil {
		return next, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	if a.cache != nil {
		if err := a.cache.Put(ctx, executionID, next); err != nil {
			a.logger.WarnContext(ctx, "Failed to cache snapshot", "execution_id", executionID, "error", err)
		}
	}

	return next, nil
}

// Snapshot returns the cached snapshot of a tracked execution.
func (a *Aggregator) Snapshot(executionID string) (models.ProgressSnapshot, bool) {
	e, ok := a.entry(executionID)
	if !ok {
		return models.ProgressSnapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return MergeSnapshot(e.snapshot, models.SnapshotPatch{}), true
}

// Lookup returns the snapshot of a tracked execution, falling back to the
// cache for executions tracked by another instance.
func (a *Aggregator) Lookup(ctx context.Context, executionID string) (models.ProgressSnapshot, bool) {
	if snapshot, ok := a.Snapshot(executionID); ok {
		return snapshot, true
	}

	if a.cache == nil {
		return models.ProgressSnapshot{}, false
	}

	snapshot, ok, err := a.cache.Get(ctx, executionID)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to read cached snapshot", "execution_id", executionID, "error", err)

		return models.ProgressSnapshot{}, false
	}

	return snapshot, ok
}

// LastActivity is the time of the latest open or update.
func (a *Aggregator) LastActivity(executionID string) (time.Time, bool) {
	e, ok := a.entry(executionID)
	if !ok {
		return time.Time{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastActivity, true
}

// Callback adapts Apply to the graph executor's callback signature. Failures
// are logged; a progress write never aborts the run.
func (a *Aggregator) Callback(ctx context.Context, executionID string) models.ProgressCallback {
	return func(update models.ProgressUpdate) {
		if _, err := a.Apply(ctx, executionID, update); err != nil {
			a.logger.ErrorContext(ctx, "Failed to apply progress update",
				"execution_id", executionID,
				"node_id", update.NodeID,
				"error", err,
			)
		}
	}
}

func (a *Aggregator) entry(executionID string) (*entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[executionID]

	return e, ok
}
