// Package journal persists terminal reply outcomes to SQLite. It is
// observability only: nothing on the processing path reads it, and losing
// it costs nothing but history.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"linerelay/internal/relay"

	_ "modernc.org/sqlite"
)

// Store implements relay.OutcomeRecorder on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal database: %w", err)
	}

	// Single connection: SQLite and concurrent writers don't mix.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id   TEXT NOT NULL,
		event_kind  TEXT NOT NULL,
		result_kind TEXT NOT NULL,
		delivered   INTEGER NOT NULL,
		latency_ms  INTEGER NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_time ON outcomes(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

var _ relay.OutcomeRecorder = (*Store)(nil)

// Record inserts one outcome row. Errors are logged, not propagated: the
// reply pipeline must never stall on its journal.
func (s *Store) Record(ctx context.Context, rec relay.OutcomeRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (source_id, event_kind, result_kind, delivered, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SourceID, string(rec.EventKind), rec.ResultKind,
		boolToInt(rec.Delivered), rec.Latency.Milliseconds(), rec.When.UTC(),
	)
	if err != nil {
		s.logger.Warn("journal write failed", "err", err)
	}
}

// Outcome is one journal row, read back for diagnostics.
type Outcome struct {
	SourceID   string
	EventKind  string
	ResultKind string
	Delivered  bool
	LatencyMS  int64
	CreatedAt  time.Time
}

// Recent returns the newest outcomes, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, event_kind, result_kind, delivered, latency_ms, created_at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var delivered int
		if err := rows.Scan(&o.SourceID, &o.EventKind, &o.ResultKind, &delivered, &o.LatencyMS, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Delivered = delivered != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention window.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE created_at < ?`, time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
