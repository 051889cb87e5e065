package rediscache_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence/rediscache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*rediscache.Cache, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	cache, err := rediscache.New(ctx, fmt.Sprintf("redis://%s/0", endpoint), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cache.Close()
		_ = testcontainers.TerminateContainer(container)

		cancel()
	})

	return cache, ctx
}

func TestCache(t *testing.T) {
	cache, ctx := setupRedis(t)

	_, found, err := cache.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.False(t, found)

	snapshot := models.ProgressSnapshot{
		Progress:    75,
		CurrentNode: "chapter-3",
		Metrics:     models.Metrics{Tokens: 900, Chapters: 3},
	}

	require.NoError(t, cache.Put(ctx, "exec-1", snapshot))

	cached, found, err := cache.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "chapter-3", cached.CurrentNode)
	assert.Equal(t, int64(900), cached.Metrics.Tokens)

	require.NoError(t, cache.Delete(ctx, "exec-1"))

	_, found, err = cache.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := rediscache.New(context.Background(), "://bad", slog.Default())
	assert.Error(t, err)
}
