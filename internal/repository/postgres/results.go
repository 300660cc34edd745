package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

// PostgresResultRepository implements ResultRepository for PostgreSQL
type PostgresResultRepository struct {
	db *sql.DB
}

// NewPostgresResultRepository creates a new PostgreSQL result repository
func NewPostgresResultRepository(db *sql.DB) repository.ResultRepository {
	return &PostgresResultRepository{db: db}
}

// Migrate creates the tables if they do not exist
func (r *PostgresResultRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record
func (r *PostgresResultRepository) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO calibration_runs (id, mode, status, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.Status,
		run.StartedAt)

	return err
}

// StoreResult inserts one measurement
func (r *PostgresResultRepository) StoreResult(ctx context.Context, runID uuid.UUID, result models.Result) error {
	query := `
		INSERT INTO calibration_results (run_id, kind, frequency, stimulus, primary_value, secondary_value, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		runID,
		result.Kind,
		result.Frequency,
		result.Stimulus,
		result.Primary,
		result.Secondary,
		result.Timestamp)

	return err
}

// CompleteRun stores the final counters of a run and marks it completed
func (r *PostgresResultRepository) CompleteRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE calibration_runs
		SET status = $1, finished_at = $2, total_measurements = $3, error_count = $4, warning_count = $5
		WHERE id = $6`

	res, err := r.db.ExecContext(ctx, query,
		models.RunStatusCompleted,
		run.FinishedAt,
		run.Total,
		run.Errors,
		run.Warnings,
		run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *PostgresResultRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, mode, status, started_at, finished_at, total_measurements, error_count, warning_count
		FROM calibration_runs
		WHERE id = $1`

	var run models.Run
	var finishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Mode,
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
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return &run, nil
}

// GetResults retrieves the results of a run, optionally filtered by kind
func (r *PostgresResultRepository) GetResults(ctx context.Context, runID uuid.UUID, kind models.Kind) ([]models.Result, error) {
	query := `
		SELECT kind, frequency, stimulus, primary_value, secondary_value, measured_at
		FROM calibration_results
		WHERE run_id = $1 AND ($2::text = '' OR kind = $2::text)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, runID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var result models.Result
		err := rows.Scan(
			&result.Kind,
			&result.Frequency,
			&result.Stimulus,
			&result.Primary,
			&result.Secondary,
			&result.Timestamp)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}
