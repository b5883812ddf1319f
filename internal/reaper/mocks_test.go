package reaper

import (
	"context"

	"github.com/p-arndt/snippetd/internal/docker"
	"github.com/stretchr/testify/mock"
)

type MockExecutions struct {
	mock.Mock
}

func (m *MockExecutions) Shutdown(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}

// MockReaperRuntime mocks the ReaperRuntime interface.
type MockReaperRuntime struct {
	mock.Mock
}

func (m *MockReaperRuntime) ListManagedContainers(ctx context.Context) ([]docker.ContainerInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]docker.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperRuntime) ListManagedImages(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperRuntime) DeleteInstance(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockReaperRuntime) RemoveImage(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}
