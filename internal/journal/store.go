package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stereopipe/internal/config"
)

// Store manages pipeline run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// ErrRunNotFound indicates the requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.JournalPath())
}

// OpenPath opens the journal at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewRun inserts a run record and populates its ID and timestamps.
func (s *Store) NewRun(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is required")
	}
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run identifier is required")
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	if !run.Status.Valid() {
		return fmt.Errorf("unknown status %q", run.Status)
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(ctx,
		`INSERT INTO runs (
            run_id, left_input, right_input, staged_left, staged_right,
            disparity_path, mask_path, workspace_dir,
            min_disparity, max_disparity, window_size, p1, p2, lr_threshold,
            status, progress_stage, progress_message, error_message,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.LeftInput, run.RightInput, run.StagedLeft, run.StagedRight,
		run.DisparityPath, run.MaskPath, run.WorkspaceDir,
		run.Params.MinDisparity, run.Params.MaxDisparity, run.Params.WindowSize,
		run.Params.P1, run.Params.P2, run.Params.LRThreshold,
		string(run.Status), run.ProgressStage, run.ProgressMessage, run.ErrorMessage,
		timestamp, timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("resolve run id: %w", err)
	}
	run.ID = id
	return nil
}

// Update persists the mutable fields of a run.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run == nil || run.ID == 0 {
		return errors.New("persisted run is required")
	}
	if !run.Status.Valid() {
		return fmt.Errorf("unknown status %q", run.Status)
	}

	run.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET
            staged_left = ?, staged_right = ?, workspace_dir = ?,
            status = ?, progress_stage = ?, progress_message = ?, error_message = ?,
            updated_at = ?
        WHERE id = ?`,
		run.StagedLeft, run.StagedRight, run.WorkspaceDir,
		string(run.Status), run.ProgressStage, run.ProgressMessage, run.ErrorMessage,
		run.UpdatedAt.Format(time.RFC3339Nano),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update run %d: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// Get returns the run with the given database ID.
func (s *Store) Get(ctx context.Context, id int64) (*Run, error) {
	return s.queryOne(ctx, "id = ?", id)
}

// GetByRunID returns the run with the given UUID identifier.
func (s *Store) GetByRunID(ctx context.Context, runID string) (*Run, error) {
	return s.queryOne(ctx, "run_id = ?", runID)
}

// List returns runs ordered newest first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	query := selectColumns + " FROM runs ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Clear removes terminal runs. With all set, every run is removed regardless
// of state. Returns the number of deleted rows.
func (s *Store) Clear(ctx context.Context, all bool) (int64, error) {
	query := "DELETE FROM runs WHERE status IN (?, ?)"
	args := []any{string(StatusCompleted), string(StatusFailed)}
	if all {
		query = "DELETE FROM runs"
		args = nil
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return res.RowsAffected()
}

// ActiveWorkspaces returns workspace directories referenced by non-terminal runs.
func (s *Store) ActiveWorkspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT workspace_dir FROM runs WHERE status NOT IN (?, ?) AND workspace_dir != ''",
		string(StatusCompleted), string(StatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("query active workspaces: %w", err)
	}
	defer rows.Close()

	var dirs []string
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

// HealthSummary describes aggregated run counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// Health aggregates counts over the runs table.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT status, COUNT(1) FROM runs GROUP BY status")
	if err != nil {
		return HealthSummary{}, fmt.Errorf("query run health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch Status(status) {
		case StatusPending:
			summary.Pending += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		default:
			summary.Active += count
		}
	}
	return summary, rows.Err()
}

const selectColumns = `SELECT
    id, run_id, left_input, right_input, staged_left, staged_right,
    disparity_path, mask_path, workspace_dir,
    min_disparity, max_disparity, window_size, p1, p2, lr_threshold,
    status, progress_stage, progress_message, error_message,
    created_at, updated_at`

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), selectColumns+" FROM runs WHERE "+where, arg)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(src scanner) (*Run, error) {
	var run Run
	var status, createdAt, updatedAt string
	err := src.Scan(
		&run.ID, &run.RunID, &run.LeftInput, &run.RightInput, &run.StagedLeft, &run.StagedRight,
		&run.DisparityPath, &run.MaskPath, &run.WorkspaceDir,
		&run.Params.MinDisparity, &run.Params.MaxDisparity, &run.Params.WindowSize,
		&run.Params.P1, &run.Params.P2, &run.Params.LRThreshold,
		&status, &run.ProgressStage, &run.ProgressMessage, &run.ErrorMessage,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if run.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func parseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}
