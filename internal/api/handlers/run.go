package handlers

import (
	"context"
	"errors"

	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunSource exposes the run in progress
type RunSource interface {
	Status() models.GetRunStatusResponseBody
	Summary() models.RunSummary
	Results(kind models.Kind) []models.Result
}

// RunHandler handles run related HTTP requests
type RunHandler struct {
	source RunSource
	repo   repository.ResultRepository
}

// NewRunHandler creates a new run handler. repo may be nil when no results
// database is configured.
func NewRunHandler(source RunSource, repo repository.ResultRepository) *RunHandler {
	return &RunHandler{
		source: source,
		repo:   repo,
	}
}

// GetRunStatus returns the progress of the current run
func (h *RunHandler) GetRunStatus(ctx context.Context, input *struct{}) (*models.GetRunStatusResponse, error) {
	return &models.GetRunStatusResponse{Body: h.source.Status()}, nil
}

// GetRunErrors returns the errors and warnings logged so far
func (h *RunHandler) GetRunErrors(ctx context.Context, input *struct{}) (*models.GetRunErrorsResponse, error) {
	summary := h.source.Summary()

	resp := &models.GetRunErrorsResponse{}
	resp.Body.Errors = summary.Errors
	resp.Body.Warnings = summary.Warnings
	if resp.Body.Errors == nil {
		resp.Body.Errors = []models.ErrorRecord{}
	}
	if resp.Body.Warnings == nil {
		resp.Body.Warnings = []models.WarningRecord{}
	}
	return resp, nil
}

// GetRunResults returns the results recorded so far
func (h *RunHandler) GetRunResults(ctx context.Context, input *models.GetRunResultsRequest) (*models.GetRunResultsResponse, error) {
	resp := &models.GetRunResultsResponse{}
	resp.Body.Results = models.NewResultRecords(h.source.Results(models.Kind(input.Kind)))
	return resp, nil
}

// GetStoredRun returns a run from the results database
func (h *RunHandler) GetStoredRun(ctx context.Context, input *models.GetStoredRunRequest) (*models.GetStoredRunResponse, error) {
	id, err := h.parseID(input.ID)
	if err != nil {
		return nil, err
	}

	run, err := h.repo.GetRun(ctx, id)
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, huma.Error404NotFound("Run not found")
	}
	if err != nil {
		log.Error().Err(err).Str("runID", input.ID).Msg("Failed to load run")
		return nil, huma.Error500InternalServerError("Failed to load run", err)
	}
	return &models.GetStoredRunResponse{Body: *run}, nil
}

// GetStoredResults returns the results of a run from the results database
func (h *RunHandler) GetStoredResults(ctx context.Context, input *models.GetStoredResultsRequest) (*models.GetRunResultsResponse, error) {
	id, err := h.parseID(input.ID)
	if err != nil {
		return nil, err
	}

	results, err := h.repo.GetResults(ctx, id, models.Kind(input.Kind))
	if err != nil {
		log.Error().Err(err).Str("runID", input.ID).Msg("Failed to load results")
		return nil, huma.Error500InternalServerError("Failed to load results", err)
	}

	resp := &models.GetRunResultsResponse{}
	resp.Body.Results = models.NewResultRecords(results)
	return resp, nil
}

func (h *RunHandler) parseID(raw string) (uuid.UUID, error) {
	if h.repo == nil {
		return uuid.Nil, huma.Error503ServiceUnavailable("No results database configured")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, huma.Error400BadRequest("Invalid run ID format", err)
	}
	return id, nil
}
