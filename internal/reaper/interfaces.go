package reaper

import (
	"context"

	"github.com/p-arndt/snippetd/internal/docker"
)

// Executions is the live-execution table the reaper drains on shutdown.
type Executions interface {
	Shutdown(ctx context.Context) int
}

// Inflight is work that may still start executions after shutdown began.
type Inflight interface {
	Drain(ctx context.Context) error
}

// InflightFunc adapts a function to Inflight.
type InflightFunc func(ctx context.Context) error

func (f InflightFunc) Drain(ctx context.Context) error { return f(ctx) }

// ReaperRuntime abstracts the container runtime operations the reaper needs.
type ReaperRuntime interface {
	ListManagedContainers(ctx context.Context) ([]docker.ContainerInfo, error)
	ListManagedImages(ctx context.Context) ([]string, error)
	DeleteInstance(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, tag string) error
}
