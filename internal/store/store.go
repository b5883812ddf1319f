package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Snippet is one user-submitted program and its run flag.
type Snippet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Running   bool      `json:"running"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS snippets (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	running    INTEGER NOT NULL DEFAULT 0,
	revision   INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snippets_revision ON snippets(revision);
CREATE INDEX IF NOT EXISTS idx_snippets_running ON snippets(running);

CREATE TABLE IF NOT EXISTS snippet_outputs (
	id         TEXT PRIMARY KEY,
	output     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

// New opens the store. ":memory:" databases are pinned to one connection,
// since every connection would otherwise see its own empty database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	maxOpenConns := 1
	if dbPath != ":memory:" {
		dsn = dsnWithPragmas(dbPath)
		maxOpenConns = DefaultMaxOpenConns
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SubmitSnippet upserts a snippet and bumps its revision so the change feed
// picks it up again.
func (s *Store) SubmitSnippet(ctx context.Context, sn *Snippet) error {
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx,
			`INSERT INTO snippets (id, text, language, running, revision, updated_at)
			 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(revision), 0) + 1 FROM snippets), ?)
			 ON CONFLICT(id) DO UPDATE SET
			   text = excluded.text,
			   language = excluded.language,
			   running = excluded.running,
			   revision = excluded.revision,
			   updated_at = excluded.updated_at`,
			sn.ID, sn.Text, sn.Language, sn.Running, time.Now().UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("submitting snippet: %w", err)
	}
	return nil
}

// GetSnippet returns the snippet or ErrNotFound.
func (s *Store) GetSnippet(ctx context.Context, id string) (*Snippet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, language, running, revision, updated_at FROM snippets WHERE id = ?`, id,
	)
	sn, err := scanSnippet(row)
	if err != nil {
		return nil, err
	}
	if sn == nil {
		return nil, fmt.Errorf("snippet %s: %w", id, ErrNotFound)
	}
	return sn, nil
}

// ChangedSince lists running snippets submitted after revision, oldest first.
func (s *Store) ChangedSince(ctx context.Context, revision int64) ([]*Snippet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, language, running, revision, updated_at
		 FROM snippets WHERE running = 1 AND revision > ? ORDER BY revision`, revision,
	)
	if err != nil {
		return nil, fmt.Errorf("listing changed snippets: %w", err)
	}
	defer rows.Close()
	return scanSnippets(rows)
}

// SetRunFlag records whether a snippet is running. It deliberately leaves the
// revision alone so the change feed does not re-dispatch the snippet.
func (s *Store) SetRunFlag(ctx context.Context, id string, running bool) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.ExecContext(ctx,
			`UPDATE snippets SET running = ?, updated_at = ? WHERE id = ?`,
			running, time.Now().UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating run flag: %w", err)
	}
	return checkRowAffected(result, id)
}

// IsRunning reads the run flag. Unknown snippets are not running.
func (s *Store) IsRunning(ctx context.Context, id string) (bool, error) {
	var running bool
	err := s.db.QueryRowContext(ctx, `SELECT running FROM snippets WHERE id = ?`, id).Scan(&running)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading run flag: %w", err)
	}
	return running, nil
}

// AppendOutput stores the cumulative output captured so far for a snippet.
func (s *Store) AppendOutput(ctx context.Context, id, output string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx,
			`INSERT INTO snippet_outputs (id, output, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET output = excluded.output, updated_at = excluded.updated_at`,
			id, output, time.Now().UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// GetOutput returns the captured output or ErrNotFound.
func (s *Store) GetOutput(ctx context.Context, id string) (string, error) {
	var output string
	err := s.db.QueryRowContext(ctx, `SELECT output FROM snippet_outputs WHERE id = ?`, id).Scan(&output)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("output %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading output: %w", err)
	}
	return output, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSnippet(row scannable) (*Snippet, error) {
	var sn Snippet
	err := row.Scan(&sn.ID, &sn.Text, &sn.Language, &sn.Running, &sn.Revision, &sn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning snippet: %w", err)
	}
	return &sn, nil
}

func scanSnippets(rows *sql.Rows) ([]*Snippet, error) {
	var snippets []*Snippet
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snippets: %w", err)
	}
	return snippets, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snippet %s: %w", id, ErrNotFound)
	}
	return nil
}
