// Package gcs stores artifacts in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	inkstorage "github.com/dukex/inkwell/pkg/storage"
	"google.golang.org/api/option"
)

const publicHost = "https://storage.googleapis.com"

type Client struct {
	storageClient *storage.Client
	logger        *slog.Logger
}

// NewClient builds a client from a service account key file, or from
// application default credentials when the path is empty.
func NewClient(ctx context.Context, credentialsFile string, logger *slog.Logger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		logger:        logger.With("module", "gcs_storage"),
	}, nil
}

func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, mimeType string) error {
	if err := inkstorage.ValidateKey(key); err != nil {
		return err
	}

	writer := c.storageClient.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = mimeType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()

		return fmt.Errorf("failed to write GCS object gs://%s/%s: %w", bucket, key, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for gs://%s/%s: %w", bucket, key, err)
	}

	c.logger.DebugContext(ctx, "Uploaded object", "bucket", bucket, "key", key, "bytes", len(data))

	return nil
}

func (c *Client) PublicURL(bucket, key string) string {
	return PublicURL(bucket, key)
}

func (c *Client) Close() error {
	return c.storageClient.Close()
}

// PublicURL escapes every key segment but keeps the separators.
func PublicURL(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}

	return fmt.Sprintf("%s/%s/%s", publicHost, bucket, strings.Join(parts, "/"))
}
