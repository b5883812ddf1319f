package testutil

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/p-arndt/snippetd/internal/config"
	"github.com/p-arndt/snippetd/internal/store"
)

// TestConfig returns a Config with test defaults. Staging lives in a
// per-test temporary directory and lifetimes are long enough that timers
// never fire unless a test shortens them.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Listen:            "127.0.0.1:0",
		LogLevel:          "error",
		DBPath:            ":memory:",
		ImagePrefix:       "node_docker_",
		PollIntervalMs:    10,
		LifetimeMs:        int(time.Hour / time.Millisecond),
		TeardownTimeoutMs: 5000,
		NoiseMarkers:      []string{"docker", "node"},
		Staging: config.StagingConfig{
			Root:              t.TempDir(),
			Prefix:            "docker",
			BaseImage:         "node:20-slim",
			AppRoot:           "/usr/src/app",
			SourceFile:        "index.js",
			DependencyName:    "express",
			DependencyVersion: "^4.16.1",
		},
	}
}

// TestSnippet returns a running javascript snippet.
func TestSnippet(id, text string) *store.Snippet {
	return &store.Snippet{
		ID:       id,
		Text:     text,
		Language: "javascript",
		Running:  true,
	}
}

// TestLogger only prints errors, to keep test output readable.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
