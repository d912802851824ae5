package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/nwbbatch/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Outcomes arrive from several workers at once; one connection
	// serializes the writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewRunID generates a new ULID string. ULIDs sort by creation time.
func NewRunID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

const runColumns = `id, base_path, concurrency, stub, cancelled, succeeded, skipped, failed, abandoned, started_at, finished_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, r *models.Run) error {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BasePath, r.Concurrency, boolToInt(r.Stub), boolToInt(r.Cancelled),
		r.Counts.Succeeded, r.Counts.Skipped, r.Counts.Failed, r.Counts.Abandoned,
		r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts and end time of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *models.Run) error {
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET cancelled = ?, succeeded = ?, skipped = ?, failed = ?, abandoned = ?, finished_at = ?
		WHERE id = ?`,
		boolToInt(r.Cancelled), r.Counts.Succeeded, r.Counts.Skipped, r.Counts.Failed, r.Counts.Abandoned,
		r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", r.ID)
	}
	return nil
}

// GetRun returns the run with the given ID or unique ID prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	runs, err := s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`,
		id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("run not found: %s", id)
	case len(runs) > 1 && runs[0].ID != id:
		return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
	}
	return runs[0], nil
}

// ListRuns returns runs, newest first. A limit of 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	runs, err := s.queryRuns(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		r := &models.Run{}
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.BasePath, &r.Concurrency, &r.Stub, &r.Cancelled,
			&r.Counts.Succeeded, &r.Counts.Skipped, &r.Counts.Failed, &r.Counts.Abandoned,
			&r.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Outcomes ---

// RecordOutcome stores the outcome at position within a run. Recording the
// same position twice replaces the earlier outcome.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, runID string, position int, o models.Outcome) error {
	var startedAt sql.NullTime
	if !o.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: o.StartedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO outcomes (run_id, position, session_id, status, reason, output_path, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, position, o.SessionID, string(o.Status), o.Reason, o.OutputPath, startedAt, o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns a run's outcomes in input order.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]models.Outcome, error) {
	outcomes, err := s.queryOutcomes(ctx,
		`SELECT session_id, status, reason, output_path, started_at, duration_ms
		FROM outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return outcomes, nil
}

// LastOutcome returns the most recent outcome recorded for a session.
func (s *SQLiteStore) LastOutcome(ctx context.Context, sessionID string) (*models.Outcome, error) {
	outcomes, err := s.queryOutcomes(ctx,
		`SELECT o.session_id, o.status, o.reason, o.output_path, o.started_at, o.duration_ms
		FROM outcomes o JOIN runs r ON r.id = o.run_id
		WHERE o.session_id = ? ORDER BY r.started_at DESC, r.id DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("last outcome: %w", err)
	}
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("no outcome recorded for session: %s", sessionID)
	}
	return &outcomes[0], nil
}

func (s *SQLiteStore) queryOutcomes(ctx context.Context, query string, args ...any) ([]models.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var status string
		var startedAt sql.NullTime
		var durationMS int64
		if err := rows.Scan(&o.SessionID, &status, &o.Reason, &o.OutputPath, &startedAt, &durationMS); err != nil {
			return nil, err
		}
		o.Status = models.Status(status)
		if startedAt.Valid {
			o.StartedAt = startedAt.Time
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
