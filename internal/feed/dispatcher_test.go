package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/testutil"
)

func TestDispatcherRunsFlaggedRecords(t *testing.T) {
	exec := &MockExecutor{}
	d := NewDispatcher(exec, testutil.TestLogger())
	exec.On("Dispatch", mock.Anything, "a", "console.log(1)").
		Return(&execution.Handle{ID: "a", Generation: 1}, nil).Once()

	d.Handle(context.Background(), []Record{
		{ID: "a", Text: "console.log(1)", RunFlag: true, Language: "javascript"},
		{ID: "b", Text: "console.log(2)", RunFlag: false},
	})
	require.NoError(t, d.Drain(context.Background()))

	exec.AssertExpectations(t)
	exec.AssertNotCalled(t, "Dispatch", mock.Anything, "b", mock.Anything)
}

func TestDispatcherToleratesFailures(t *testing.T) {
	exec := &MockExecutor{}
	d := NewDispatcher(exec, testutil.TestLogger())
	exec.On("Dispatch", mock.Anything, "a", mock.Anything).Return(nil, execution.ErrUpdateQueued).Once()
	exec.On("Dispatch", mock.Anything, "b", mock.Anything).Return(nil, errors.New("image build failed")).Once()
	exec.On("Dispatch", mock.Anything, "c", mock.Anything).Return(&execution.Handle{ID: "c"}, nil).Once()

	d.Handle(context.Background(), []Record{
		{ID: "a", RunFlag: true},
		{ID: "b", RunFlag: true, Language: "python"},
		{ID: "c", RunFlag: true},
	})
	require.NoError(t, d.Drain(context.Background()))

	exec.AssertExpectations(t)
}

func TestDispatcherDrainTimesOut(t *testing.T) {
	exec := &MockExecutor{}
	d := NewDispatcher(exec, testutil.TestLogger())
	release := make(chan struct{})
	exec.On("Dispatch", mock.Anything, "slow", mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&execution.Handle{ID: "slow"}, nil).Once()

	d.Handle(context.Background(), []Record{{ID: "slow", RunFlag: true}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Drain(context.Background()))
	exec.AssertExpectations(t)
}

func TestDispatcherIgnoresBatchAfterCancel(t *testing.T) {
	exec := &MockExecutor{}
	d := NewDispatcher(exec, testutil.TestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Handle(ctx, []Record{{ID: "a", RunFlag: true}})

	require.NoError(t, d.Drain(context.Background()))
	exec.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}
