package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/inkwell/pkg/persistence/rediscache"
)

// NewSnapshotCache connects the progress snapshot cache. It returns nil when
// no redis URL is configured.
func NewSnapshotCache(ctx context.Context, redisURL string, logger *slog.Logger) (*rediscache.Cache, error) {
	if redisURL == "" {
		return nil, nil
	}

	return rediscache.New(ctx, redisURL, logger)
}
