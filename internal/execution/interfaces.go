package execution

import (
	"context"
	"io"
	"time"

	"github.com/p-arndt/snippetd/internal/output"
)

// Engine is the container runtime as seen by the manager. Calls are not
// retried; errors come back as the runtime reported them.
type Engine interface {
	BuildImage(ctx context.Context, contextDir, tag string) (io.ReadCloser, error)
	CreateInstance(ctx context.Context, image, name string) (string, error)
	Start(ctx context.Context, containerID string) error
	AttachLogs(ctx context.Context, containerID string, since time.Time) (io.ReadCloser, error)
	Stop(ctx context.Context, containerID string) error
	DeleteInstance(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, tag string) error
	PushFile(ctx context.Context, containerID, localPath, remoteDir string) error
	Restart(ctx context.Context, containerID string) error
}

// Capture consumes build and log streams.
type Capture interface {
	Attach(ctx context.Context, r io.Reader, role output.Role, id string) <-chan error
	Release(id string)
}

// RunState is the external, authoritative run flag of a snippet.
type RunState interface {
	SetRunFlag(ctx context.Context, id string, running bool) error
	IsRunning(ctx context.Context, id string) (bool, error)
}
