package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/studentutu/shipyard/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Artifact registry ---

// GetArtifactPath returns the last recorded artifact path for a target, or
// "" when none has been recorded.
func (s *SQLiteStore) GetArtifactPath(ctx context.Context, targetID string) (string, error) {
	s.logger.Debug("sql", "op", "select", "table", "artifacts", "target_id", targetID)

	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM artifacts WHERE target_id = ?`, targetID,
	).Scan(&path)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// SetArtifactPath records (or replaces) the artifact path for a target.
func (s *SQLiteStore) SetArtifactPath(ctx context.Context, targetID, path string) error {
	s.logger.Debug("sql", "op", "upsert", "table", "artifacts", "target_id", targetID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (target_id, path, built_at) VALUES (?, ?, ?)
		 ON CONFLICT(target_id) DO UPDATE SET path = excluded.path, built_at = excluded.built_at`,
		targetID, path, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// --- Run history ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, strategy, state, force_build, target_count, succeeded, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Strategy), string(run.State),
		boolToInt(run.ForceBuild), run.TargetCount, boolToInt(run.Succeeded),
		run.StartedAt.Format(time.RFC3339Nano), formatNullableTime(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, target_count = ?, succeeded = ?, completed_at = ? WHERE id = ?`,
		string(run.State), run.TargetCount, boolToInt(run.Succeeded),
		formatNullableTime(run.CompletedAt), run.ID,
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, state, force_build, target_count, succeeded, started_at, completed_at
		 FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "limit", limit)
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, strategy, state, force_build, target_count, succeeded, started_at, completed_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var run model.Run
	var strategy, state, startedAt string
	var forceBuild, succeeded int
	var completedAt sql.NullString

	err := sc.Scan(&run.ID, &strategy, &state, &forceBuild, &run.TargetCount, &succeeded, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Strategy = model.StrategyType(strategy)
	run.State = model.RunState(state)
	run.ForceBuild = forceBuild != 0
	run.Succeeded = succeeded != 0

	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &ts
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
