package mocks

import (
	"context"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockExecutor is a mock implementation of graph.Executor interface.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req models.ExecuteRequest, progress models.ProgressCallback) (*models.GraphResult, error) {
	args := m.Called(ctx, req, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GraphResult), args.Error(1)
}

func (m *MockExecutor) Resume(ctx context.Context, req models.ResumeRequest, progress models.ProgressCallback) (*models.GraphResult, error) {
	args := m.Called(ctx, req, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GraphResult), args.Error(1)
}
