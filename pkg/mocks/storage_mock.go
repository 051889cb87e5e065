package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockObjectStorage is a mock implementation of storage.ObjectStorage interface.
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Upload(ctx context.Context, bucket, key string, data []byte, mimeType string) error {
	args := m.Called(ctx, bucket, key, data, mimeType)

	return args.Error(0)
}

func (m *MockObjectStorage) PublicURL(bucket, key string) string {
	args := m.Called(bucket, key)

	return args.String(0)
}
