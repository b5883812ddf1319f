package api

import (
	"context"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
)

// ExecutionService exposes the live-execution table read-only.
type ExecutionService interface {
	Get(id string) (execution.Handle, bool)
	List() []execution.Handle
}

// SnippetStore abstracts the store operations needed by API handlers.
type SnippetStore interface {
	SubmitSnippet(ctx context.Context, sn *store.Snippet) error
	GetSnippet(ctx context.Context, id string) (*store.Snippet, error)
	GetOutput(ctx context.Context, id string) (string, error)
}

// Pinger reports whether the container engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
