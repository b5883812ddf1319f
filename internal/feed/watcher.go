// Package feed turns snippet changes in the store into dispatches.
package feed

import (
	"context"
	"log/slog"
	"time"
)

// Record is one changed snippet as delivered to subscribers.
type Record struct {
	ID       string
	Text     string
	RunFlag  bool
	Language string
	Revision int64
}

// Watcher polls the store for snippets whose revision moved past the last
// one it delivered.
type Watcher struct {
	source   ChangeSource
	interval time.Duration
	logger   *slog.Logger

	cursor int64
}

func NewWatcher(source ChangeSource, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Subscribe polls until ctx is done. Each non-empty batch is handed to
// onBatch in revision order; query errors go to onErr and polling carries
// on from the same cursor. It returns ctx's error.
func (w *Watcher) Subscribe(ctx context.Context, onBatch func([]Record), onErr func(error)) error {
	w.logger.Info("change feed started", "interval", w.interval, "cursor", w.cursor)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx, onBatch, onErr)

		select {
		case <-ctx.Done():
			w.logger.Info("change feed stopped", "cursor", w.cursor)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, onBatch func([]Record), onErr func(error)) {
	snippets, err := w.source.ChangedSince(ctx, w.cursor)
	if err != nil {
		if ctx.Err() == nil {
			onErr(err)
		}
		return
	}
	if len(snippets) == 0 {
		return
	}

	batch := make([]Record, 0, len(snippets))
	for _, sn := range snippets {
		batch = append(batch, Record{
			ID:       sn.ID,
			Text:     sn.Text,
			RunFlag:  sn.Running,
			Language: sn.Language,
			Revision: sn.Revision,
		})
		if sn.Revision > w.cursor {
			w.cursor = sn.Revision
		}
	}
	onBatch(batch)
}
