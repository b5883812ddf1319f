package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-arndt/snippetd/internal/api"
	"github.com/p-arndt/snippetd/internal/config"
	"github.com/p-arndt/snippetd/internal/docker"
	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/feed"
	"github.com/p-arndt/snippetd/internal/objectstore"
	"github.com/p-arndt/snippetd/internal/output"
	"github.com/p-arndt/snippetd/internal/reaper"
	"github.com/p-arndt/snippetd/internal/staging"
	"github.com/p-arndt/snippetd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the snippet execution daemon",
	Long: `Start the daemon: follow the snippet store's change feed, run flagged
snippets and serve the status API.

On SIGINT or SIGTERM every running container is killed before exit.

Examples:
  snippetd serve
  snippetd serve --config /etc/snippetd.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured, running in open access mode")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	dc, err := docker.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer dc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dc.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed, is Docker running? %w", err)
	}
	logger.Info("docker connection OK")

	sink, err := outputSink(ctx, st, cfg.ObjectStore)
	if err != nil {
		return err
	}
	maxBytes, err := cfg.MaxOutputBytes()
	if err != nil {
		return err
	}
	filter := output.NewFilter(sink, output.MarkerClassifier{Markers: cfg.NoiseMarkers}, logger)
	filter.SetLimit(maxBytes)

	mgr := execution.NewManager(cfg, dc, staging.NewBuilder(cfg.Staging), filter, st, logger)

	watcher := feed.NewWatcher(st, cfg.PollInterval(), logger)
	dispatcher := feed.NewDispatcher(mgr, logger)
	watcherDone := make(chan struct{})

	// the reap waits for the feed to stop and for launches it started to return
	rpr := reaper.New(mgr, dc, cfg.TeardownTimeout(), logger).
		WithInflight(reaper.InflightFunc(func(ctx context.Context) error {
			select {
			case <-watcherDone:
			case <-ctx.Done():
				return ctx.Err()
			}
			return dispatcher.Drain(ctx)
		}))
	if cfg.ReconcileOnStart {
		// before the feed starts, so nothing we launch is mistaken for an orphan
		rpr.Reconcile(ctx)
	}
	reaperDone := make(chan struct{})
	go func() {
		rpr.Run(ctx, false)
		close(reaperDone)
	}()

	go func() {
		defer close(watcherDone)
		watcher.Subscribe(ctx, func(batch []feed.Record) {
			dispatcher.Handle(ctx, batch)
		}, dispatcher.OnError)
	}()

	srv := api.NewServer(cfg, mgr, st, dc, logger)
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  snippetd ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-reaperDone
		return fmt.Errorf("server error: %w", err)
	}
	<-reaperDone
	return nil
}

// outputSink writes captured output to the store and, when configured, mirrors
// it into the object store.
func outputSink(ctx context.Context, st *store.Store, cfg config.ObjectStoreConfig) (output.Sink, error) {
	if !cfg.Enabled() {
		return st, nil
	}
	client, err := objectstore.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}
	return output.MultiSink{st, objectstore.NewSink(client, cfg.Bucket, cfg.Prefix)}, nil
}
