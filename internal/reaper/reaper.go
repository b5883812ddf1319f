package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-arndt/snippetd/internal/docker"
)

// Reaper clears leftovers of a previous process on startup and force-stops
// every live execution when the service shuts down.
type Reaper struct {
	executions Executions
	inflight   Inflight
	runtime    ReaperRuntime
	timeout    time.Duration
	logger     *slog.Logger
}

func New(ex Executions, rt ReaperRuntime, timeout time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		executions: ex,
		runtime:    rt,
		timeout:    timeout,
		logger:     logger,
	}
}

// WithInflight makes Run wait for in until it settles before reaping, so a
// launch finishing during shutdown is still stopped.
func (r *Reaper) WithInflight(in Inflight) *Reaper {
	r.inflight = in
	return r
}

// Run optionally reconciles, then waits for ctx to end and reaps. The drain
// and the reap each get their own deadline since ctx is already done by then.
func (r *Reaper) Run(ctx context.Context, reconcile bool) {
	r.logger.Info("reaper started", "reconcile", reconcile)

	if reconcile {
		r.Reconcile(ctx)
	}

	<-ctx.Done()

	if r.inflight != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.inflight.Drain(drainCtx); err != nil {
			r.logger.Warn("reaper: in-flight dispatches did not settle", "error", err)
		}
		cancel()
	}

	reapCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.Reap(reapCtx)
	r.logger.Info("reaper stopped")
}

// Reap force-stops every live execution. It returns once each stop has been
// issued, without waiting for the teardowns they trigger.
func (r *Reaper) Reap(ctx context.Context) int {
	n := r.executions.Shutdown(ctx)
	if n > 0 {
		r.logger.Info("reaper: stopped executions", "count", n)
	}
	return n
}

// Reconcile removes containers and images labelled as ours that no live
// execution owns. It must run before the first dispatch. Run flags are left
// alone: the change feed decides what runs again.
func (r *Reaper) Reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	containers, err := r.runtime.ListManagedContainers(ctx)
	if err != nil {
		r.logger.Error("reconcile: list containers", "error", err)
	} else {
		for _, ctr := range containers {
			r.logger.Warn("reconcile: removing orphan container",
				"container", ctr.ContainerID, "name", ctr.Name, "state", ctr.State)
			if err := r.runtime.DeleteInstance(ctx, ctr.ContainerID); err != nil && !docker.IsNotFound(err) {
				r.logger.Error("reconcile: remove container", "container", ctr.ContainerID, "error", err)
			}
		}
	}

	images, err := r.runtime.ListManagedImages(ctx)
	if err != nil {
		r.logger.Error("reconcile: list images", "error", err)
	} else {
		for _, img := range images {
			if err := r.runtime.RemoveImage(ctx, img); err != nil && !docker.IsNotFound(err) {
				r.logger.Error("reconcile: remove image", "image", img, "error", err)
			}
		}
	}

	r.logger.Info("reconciliation complete", "containers", len(containers), "images", len(images))
}
