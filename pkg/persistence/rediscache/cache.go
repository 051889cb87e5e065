// Package rediscache mirrors execution progress snapshots into Redis so that
// pollers can read progress without hitting the relational store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "inkwell:execution:"
	defaultTTL = 24 * time.Hour
)

// Cache stores snapshots under inkwell:execution:{id}:snapshot.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to the redis URL (redis://[:password@]host:port/db).
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewWithClient(client, defaultTTL, logger), nil
}

func NewWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "redis_snapshot_cache"),
	}
}

func snapshotKey(executionID string) string {
	return keyPrefix + executionID + ":snapshot"
}

func (c *Cache) Put(ctx context.Context, executionID string, snapshot models.ProgressSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKey(executionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}

	return nil
}

// Get reports false when nothing is cached for the execution.
func (c *Cache) Get(ctx context.Context, executionID string) (models.ProgressSnapshot, bool, error) {
	var snapshot models.ProgressSnapshot

	payload, err := c.client.Get(ctx, snapshotKey(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snapshot, false, nil
		}

		return snapshot, false, fmt.Errorf("failed to read cached snapshot: %w", err)
	}

	if err := json.Unmarshal(payload, &snapshot); err != nil {
		c.logger.WarnContext(ctx, "Dropping unreadable cached snapshot", "execution_id", executionID, "error", err)

		return snapshot, false, nil
	}

	return snapshot, true, nil
}

func (c *Cache) Delete(ctx context.Context, executionID string) error {
	if err := c.client.Del(ctx, snapshotKey(executionID)).Err(); err != nil {
		return fmt.Errorf("failed to evict snapshot: %w", err)
	}

	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
