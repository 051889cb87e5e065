package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/inkwell/pkg/storage"
	"github.com/dukex/inkwell/pkg/storage/gcs"
	"github.com/dukex/inkwell/pkg/storage/local"
)

const defaultBucket = "books"

// ObjectStore is an object storage backend and the bucket artifacts go to.
type ObjectStore struct {
	Storage storage.ObjectStorage
	Bucket  string
	close   func() error
}

func (o *ObjectStore) Close() error {
	if o.close == nil {
		return nil
	}

	return o.close()
}

// NewObjectStore parses gs://<bucket> or file://<dir>[#bucket]. Plain paths
// are local directories. Local stores without a bucket use bucket, then
// "books".
func NewObjectStore(ctx context.Context, storageURL, bucket, publicBaseURL, credentialsFile string, logger *slog.Logger) (*ObjectStore, error) {
	scheme, rest, found := strings.Cut(storageURL, "://")
	if !found {
		scheme, rest = "file", storageURL
	}

	switch scheme {
	case "gs":
		bucket = strings.Trim(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("storage url %q names no bucket", storageURL)
		}

		client, err := gcs.NewClient(ctx, credentialsFile, logger)
		if err != nil {
			return nil, err
		}

		return &ObjectStore{Storage: client, Bucket: bucket, close: client.Close}, nil
	case "file":
		root, named, _ := strings.Cut(rest, "#")
		if root == "" {
			return nil, fmt.Errorf("storage url %q names no directory", storageURL)
		}

		if named != "" {
			bucket = named
		}

		if bucket == "" {
			bucket = defaultBucket
		}

		return &ObjectStore{Storage: local.New(root, publicBaseURL, logger), Bucket: bucket}, nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}
