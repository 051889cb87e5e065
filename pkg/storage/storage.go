// Package storage defines the object storage contract used for book
// artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("invalid object key")

// ObjectStorage uploads immutable objects and resolves their public URLs.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, key string, data []byte, mimeType string) error
	PublicURL(bucket, key string) string
}

// ValidateKey rejects keys that are empty, absolute or escape the bucket.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}

	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return nil
}
