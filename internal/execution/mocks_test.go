package execution

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) BuildImage(ctx context.Context, contextDir, tag string) (io.ReadCloser, error) {
	args := m.Called(ctx, contextDir, tag)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) CreateInstance(ctx context.Context, image, name string) (string, error) {
	args := m.Called(ctx, image, name)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Start(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) AttachLogs(ctx context.Context, containerID string, since time.Time) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, since)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Stop(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) DeleteInstance(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) RemoveImage(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}

func (m *MockEngine) PushFile(ctx context.Context, containerID, localPath, remoteDir string) error {
	args := m.Called(ctx, containerID, localPath, remoteDir)
	return args.Error(0)
}

func (m *MockEngine) Restart(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

type MockRunState struct {
	mock.Mock
}

func (m *MockRunState) SetRunFlag(ctx context.Context, id string, running bool) error {
	args := m.Called(ctx, id, running)
	return args.Error(0)
}

func (m *MockRunState) IsRunning(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
