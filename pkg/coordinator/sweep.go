package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dukex/inkwell/pkg/events"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"golang.org/x/sync/errgroup"
)

// StaleMessage is the failure message written by the sweep. It names the
// sweep so timeouts can be told apart from failures the executor reported.
func StaleMessage(staleFor time.Duration) string {
	return fmt.Sprintf("%v: no progress for %s, failed by stale sweep", orchestration.ErrStaleExecution, staleFor.Round(time.Second))
}

// Sweep force-fails executions without progress for longer than StaleAfter:
// first the ones registered here, then running rows nobody owns, such as
// those left behind by a crashed process. It returns how many it failed.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.StaleAfter)

	var swept atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.SweepParallelism > 0 {
		g.SetLimit(c.cfg.SweepParallelism)
	}

	for _, entry := range c.claimStale(cutoff) {
		g.Go(func() error {
			entry.cancel()

			staleFor := now.Sub(c.lastActivity(entry))
			if !c.abandon(gctx, entry, StaleMessage(staleFor), "stale") {
				return nil
			}

			swept.Add(1)
			c.metrics.SweepFailures.WithLabelValues("memory").Inc()
			c.publish(gctx, entry.id, events.ExecutionTimedOut{
				BaseEvent: c.baseEvent(events.ExecutionTimedOutEvent, entry),
				StaleFor:  staleFor,
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(swept.Load()), err
	}

	orphans, err := c.executions.ListStale(ctx, cutoff.UTC())
	if err != nil {
		return int(swept.Load()), fmt.Errorf("failed to list stale executions: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	if c.cfg.SweepParallelism > 0 {
		g.SetLimit(c.cfg.SweepParallelism)
	}

	for _, record := range orphans {
		if c.isActive(record.ID) {
			continue
		}

		g.Go(func() error {
			entry := &activeExecution{id: record.ID, userID: record.UserID, engineID: record.EngineID, startedAt: record.CreatedAt}
			staleFor := now.Sub(record.UpdatedAt)
			message := StaleMessage(staleFor)

			snapshot := record.ExecutionData
			snapshot.Message = message
			snapshot.Error = message

			if _, ok := c.finalize(gctx, entry, models.ExecutionStatusFailed, message, "orphan", snapshot, nil); !ok {
				return nil
			}

			if err := c.executions.SaveSnapshot(gctx, record.ID, snapshot); err != nil {
				c.logger.WarnContext(gctx, "Failed to record orphan failure in snapshot", "execution_id", record.ID, "error", err)
			}

			swept.Add(1)
			c.metrics.SweepFailures.WithLabelValues("orphan").Inc()
			c.publish(gctx, record.ID, events.ExecutionTimedOut{
				BaseEvent: c.baseEvent(events.ExecutionTimedOutEvent, entry),
				StaleFor:  staleFor,
				Orphan:    true,
			})

			return nil
		})
	}

	err = g.Wait()

	if n := swept.Load(); n > 0 {
		c.logger.WarnContext(ctx, "Stale sweep failed executions", "count", n, "stale_after", c.cfg.StaleAfter)
	}

	return int(swept.Load()), err
}

// claimStale removes stale entries from the registry so that neither Stop
// nor the returning executor can finalize them too.
func (c *Coordinator) claimStale(cutoff time.Time) []*activeExecution {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*activeExecution

	for id, entry := range c.active {
		if c.lastActivity(entry).Before(cutoff) {
			stale = append(stale, entry)
			delete(c.active, id)
		}
	}

	c.metrics.ActiveExecutions.Set(float64(len(c.active)))

	return stale
}

func (c *Coordinator) lastActivity(entry *activeExecution) time.Time {
	if at, ok := c.aggregator.LastActivity(entry.id); ok {
		return at
	}

	return entry.startedAt
}

func (c *Coordinator) isActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.active[id]

	return ok
}
