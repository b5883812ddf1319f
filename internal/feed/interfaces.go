package feed

import (
	"context"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
)

// ChangeSource lists running snippets changed after a revision.
type ChangeSource interface {
	ChangedSince(ctx context.Context, revision int64) ([]*store.Snippet, error)
}

// Executor starts or updates an execution.
type Executor interface {
	Dispatch(ctx context.Context, id, source string) (*execution.Handle, error)
}
