package reaper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/p-arndt/snippetd/internal/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReap(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	r := New(ex, rt, time.Second, testLogger())

	ex.On("Shutdown", mock.Anything).Return(2).Once()

	assert.Equal(t, 2, r.Reap(context.Background()))
	ex.AssertExpectations(t)
}

func TestReconcile_RemovesOrphans(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	r := New(ex, rt, time.Second, testLogger())

	rt.On("ListManagedContainers", mock.Anything).Return([]docker.ContainerInfo{
		{ContainerID: "c1", Name: "node_docker_abc", State: "running"},
		{ContainerID: "c2", Name: "node_docker_def", State: "exited"},
	}, nil)
	rt.On("ListManagedImages", mock.Anything).Return([]string{"sha256:aaa"}, nil)
	rt.On("DeleteInstance", mock.Anything, "c1").Return(nil)
	rt.On("DeleteInstance", mock.Anything, "c2").Return(errors.New("removal in progress"))
	rt.On("RemoveImage", mock.Anything, "sha256:aaa").Return(nil)

	r.Reconcile(context.Background())

	rt.AssertExpectations(t)
	ex.AssertNotCalled(t, "Shutdown", mock.Anything)
}

func TestReconcile_ListFailureStillCleansImages(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	r := New(ex, rt, time.Second, testLogger())

	rt.On("ListManagedContainers", mock.Anything).Return(nil, errors.New("daemon down"))
	rt.On("ListManagedImages", mock.Anything).Return([]string{"sha256:bbb"}, nil)
	rt.On("RemoveImage", mock.Anything, "sha256:bbb").Return(nil)

	r.Reconcile(context.Background())

	rt.AssertExpectations(t)
	rt.AssertNotCalled(t, "DeleteInstance", mock.Anything, mock.Anything)
}

func TestRun_ReapsOnCancel(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	r := New(ex, rt, time.Second, testLogger())

	rt.On("ListManagedContainers", mock.Anything).Return([]docker.ContainerInfo{}, nil)
	rt.On("ListManagedImages", mock.Anything).Return([]string{}, nil)
	ex.On("Shutdown", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })).Return(0).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, true)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
	rt.AssertExpectations(t)
	ex.AssertExpectations(t)
}

func TestRun_SkipsReconcile(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	r := New(ex, rt, time.Second, testLogger())
	ex.On("Shutdown", mock.Anything).Return(0).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, false)

	rt.AssertNotCalled(t, "ListManagedContainers", mock.Anything)
	ex.AssertExpectations(t)
}

func TestRun_DrainsInflightBeforeReap(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}

	var order []string
	drained := InflightFunc(func(ctx context.Context) error {
		order = append(order, "drain")
		return nil
	})
	r := New(ex, rt, time.Second, testLogger()).WithInflight(drained)
	ex.On("Shutdown", mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "reap") }).Return(1).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, false)

	assert.Equal(t, []string{"drain", "reap"}, order)
	ex.AssertExpectations(t)
}

func TestRun_ReapsWhenDrainTimesOut(t *testing.T) {
	ex := &MockExecutions{}
	rt := &MockReaperRuntime{}
	stuck := InflightFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := New(ex, rt, 20*time.Millisecond, testLogger()).WithInflight(stuck)
	ex.On("Shutdown", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })).Return(0).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, false)

	ex.AssertExpectations(t)
}
