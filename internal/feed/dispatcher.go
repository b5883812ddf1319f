package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/p-arndt/snippetd/internal/execution"
)

// Dispatcher starts an execution for every record that asks to run.
// Dispatches are fire-and-forget; their outcome is only logged.
type Dispatcher struct {
	exec   Executor
	logger *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(exec Executor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{exec: exec, logger: logger}
}

// Handle dispatches each record of batch whose run flag is set. Nothing is
// dispatched once ctx is done.
func (d *Dispatcher) Handle(ctx context.Context, batch []Record) {
	if ctx.Err() != nil {
		return
	}
	for _, rec := range batch {
		if !rec.RunFlag {
			continue
		}
		dispatchID := uuid.New().String()[:8]
		log := d.logger.With("snippet_id", rec.ID, "dispatch_id", dispatchID, "language", rec.Language)
		if rec.Language != "" && rec.Language != "javascript" {
			log.Warn("no recipe for language, using the node runtime")
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			h, err := d.exec.Dispatch(ctx, rec.ID, rec.Text)
			switch {
			case errors.Is(err, execution.ErrUpdateQueued):
				log.Info("dispatch queued behind build")
			case err != nil:
				log.Error("dispatch failed", "error", err)
			default:
				log.Info("dispatched", "generation", h.Generation, "container", h.ContainerID)
			}
		}()
	}
}

// OnError logs a change feed failure.
func (d *Dispatcher) OnError(err error) {
	d.logger.Error("change feed", "error", err)
}

// Drain blocks until every dispatch started by Handle has returned, or until
// ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
