package feed

import (
	"context"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockChangeSource struct {
	mock.Mock
}

func (m *MockChangeSource) ChangedSince(ctx context.Context, revision int64) ([]*store.Snippet, error) {
	args := m.Called(ctx, revision)
	if sn := args.Get(0); sn != nil {
		return sn.([]*store.Snippet), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Dispatch(ctx context.Context, id, source string) (*execution.Handle, error) {
	args := m.Called(ctx, id, source)
	if h := args.Get(0); h != nil {
		return h.(*execution.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}
