package api

import (
	"context"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockExecutionService struct {
	mock.Mock
}

func (m *MockExecutionService) Get(id string) (execution.Handle, bool) {
	args := m.Called(id)
	return args.Get(0).(execution.Handle), args.Bool(1)
}

func (m *MockExecutionService) List() []execution.Handle {
	args := m.Called()
	return args.Get(0).([]execution.Handle)
}

type MockSnippetStore struct {
	mock.Mock
}

func (m *MockSnippetStore) SubmitSnippet(ctx context.Context, sn *store.Snippet) error {
	args := m.Called(ctx, sn)
	return args.Error(0)
}

func (m *MockSnippetStore) GetSnippet(ctx context.Context, id string) (*store.Snippet, error) {
	args := m.Called(ctx, id)
	if sn := args.Get(0); sn != nil {
		return sn.(*store.Snippet), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSnippetStore) GetOutput(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
