package repository

import (
	"context"
	"errors"

	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

// ResultRepository persists runs and the results recorded during them
type ResultRepository interface {
	Migrate(ctx context.Context) error
	CreateRun(ctx context.Context, run *models.Run) error
	StoreResult(ctx context.Context, runID uuid.UUID, result models.Result) error
	CompleteRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	// GetResults returns results in the order they were stored. An empty
	// kind returns every class.
	GetResults(ctx context.Context, runID uuid.UUID, kind models.Kind) ([]models.Result, error)
}
