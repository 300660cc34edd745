// Package sqlite stores calibration runs in a local SQLite file
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store implements ResultRepository on a SQLite database file. The
// connection is opened on first use.
type Store struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// New returns a store for the database at dbPath
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

var _ repository.ResultRepository = (*Store)(nil)

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
		if err != nil {
			s.dbErr = err
			return
		}
		// one writer at a time
		db.SetMaxOpenConns(1)
		s.db = db
	})
	return s.db, s.dbErr
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT INTO calibration_runs (id, mode, status, started_at)
VALUES (?, ?, ?, ?)`

// CreateRun inserts a new run record
func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	return s.exec(ctx, insertRunSQL, run.ID, string(run.Mode), run.Status, run.StartedAt)
}

const insertResultSQL = `
INSERT INTO calibration_results (run_id, kind, frequency, stimulus, primary_value, secondary_value, measured_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// StoreResult inserts one measurement
func (s *Store) StoreResult(ctx context.Context, runID uuid.UUID, result models.Result) error {
	return s.exec(ctx, insertResultSQL,
		runID,
		string(result.Kind),
		result.Frequency,
		result.Stimulus,
		result.Primary,
		result.Secondary,
		result.Timestamp)
}

const completeRunSQL = `
UPDATE calibration_runs
SET status = ?, finished_at = ?, total_measurements = ?, error_count = ?, warning_count = ?
WHERE id = ?`

// CompleteRun stores the final counters of a run and marks it completed
func (s *Store) CompleteRun(ctx context.Context, run *models.Run) error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	res, err := db.ExecContext(ctx, completeRunSQL,
		models.RunStatusCompleted,
		finishedAt,
		run.Total,
		run.Errors,
		run.Warnings,
		run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrRunNotFound
	}
	return nil
}

const selectRunSQL = `
SELECT id, mode, status, started_at, finished_at, total_measurements, error_count, warning_count
FROM calibration_runs
WHERE id = ?`

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var (
		run        models.Run
		mode       string
		finishedAt sql.NullTime
	)
	err = db.QueryRowContext(ctx, selectRunSQL, id).Scan(
		&run.ID,
		&mode,
		&run.Status,
		&run.StartedAt,
		&finishedAt,
		&run.Total,
		&run.Errors,
		&run.Warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.Mode = models.Mode(mode)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

const selectResultsSQL = `
SELECT kind, frequency, stimulus, primary_value, secondary_value, measured_at
FROM calibration_results
WHERE run_id = ? AND (? = '' OR kind = ?)
ORDER BY id`

// GetResults retrieves the results of a run, optionally filtered by kind
func (s *Store) GetResults(ctx context.Context, runID uuid.UUID, kind models.Kind) (results []models.Result, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectResultsSQL, runID, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var (
			result models.Result
			k      string
		)
		if err = rows.Scan(&k, &result.Frequency, &result.Stimulus, &result.Primary, &result.Secondary, &result.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		result.Kind = models.Kind(k)
		results = append(results, result)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
