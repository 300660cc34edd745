package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunSource implements RunSource for testing
type MockRunSource struct {
	mock.Mock
}

func (m *MockRunSource) Status() models.GetRunStatusResponseBody {
	args := m.Called()
	return args.Get(0).(models.GetRunStatusResponseBody)
}

func (m *MockRunSource) Summary() models.RunSummary {
	args := m.Called()
	return args.Get(0).(models.RunSummary)
}

func (m *MockRunSource) Results(kind models.Kind) []models.Result {
	args := m.Called(kind)
	return args.Get(0).([]models.Result)
}

// MockResultRepository implements repository.ResultRepository for testing
type MockResultRepository struct {
	mock.Mock
}

func (m *MockResultRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockResultRepository) CreateRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockResultRepository) StoreResult(ctx context.Context, runID uuid.UUID, result models.Result) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *MockResultRepository) CompleteRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockResultRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockResultRepository) GetResults(ctx context.Context, runID uuid.UUID, kind models.Kind) ([]models.Result, error) {
	args := m.Called(ctx, runID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Result), args.Error(1)
}

func statusCode(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestGetRunStatus(t *testing.T) {
	source := &MockRunSource{}
	body := models.GetRunStatusResponseBody{
		ID:               uuid.New().String(),
		Mode:             models.ModeSimulated,
		State:            models.StatePerFrequency,
		Frequency:        "1GHz",
		FrequenciesDone:  1,
		FrequenciesTotal: 3,
	}
	source.On("Status").Return(body)

	resp, err := NewRunHandler(source, nil).GetRunStatus(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)
}

func TestGetRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		summary  models.RunSummary
		errors   int
		warnings int
	}{
		{
			name:    "nothing logged",
			summary: models.RunSummary{},
		},
		{
			name: "errors and warnings",
			summary: models.RunSummary{
				Errors:   []models.ErrorRecord{{Message: "Error processing frequency 1GHz: timeout"}},
				Warnings: []models.WarningRecord{{Message: "Analyzer Error: overload"}, {Message: "x"}},
			},
			errors:   1,
			warnings: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockRunSource{}
			source.On("Summary").Return(tt.summary)

			resp, err := NewRunHandler(source, nil).GetRunErrors(context.Background(), &struct{}{})
			require.NoError(t, err)
			assert.NotNil(t, resp.Body.Errors)
			assert.NotNil(t, resp.Body.Warnings)
			assert.Len(t, resp.Body.Errors, tt.errors)
			assert.Len(t, resp.Body.Warnings, tt.warnings)
		})
	}
}

func TestGetRunResults(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	level := []models.Result{models.NewResult(models.KindLevel, "100MHz", "-10", -10.1, 0.02, at)}

	source := &MockRunSource{}
	source.On("Results", models.KindLevel).Return(level)

	resp, err := NewRunHandler(source, nil).GetRunResults(context.Background(), &models.GetRunResultsRequest{Kind: "level_measurement"})
	require.NoError(t, err)
	assert.Equal(t, []models.ResultRecord{{
		Kind:      models.KindLevel,
		Frequency: "100MHz",
		Stimulus:  "-10",
		Primary:   -10.1,
		Secondary: 0.02,
		Timestamp: at,
	}}, resp.Body.Results)
	source.AssertExpectations(t)
}

func TestGetStoredRun(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		id        string
		noRepo    bool
		mockSetup func(*MockResultRepository)
		wantCode  int
	}{
		{
			name: "found",
			id:   id.String(),
			mockSetup: func(repo *MockResultRepository) {
				repo.On("GetRun", mock.Anything, id).Return(&models.Run{ID: id, Status: models.RunStatusCompleted}, nil)
			},
		},
		{
			name: "not found",
			id:   id.String(),
			mockSetup: func(repo *MockResultRepository) {
				repo.On("GetRun", mock.Anything, id).Return(nil, repository.ErrRunNotFound)
			},
			wantCode: 404,
		},
		{
			name: "database failure",
			id:   id.String(),
			mockSetup: func(repo *MockResultRepository) {
				repo.On("GetRun", mock.Anything, id).Return(nil, errors.New("connection reset"))
			},
			wantCode: 500,
		},
		{
			name:     "invalid id",
			id:       "not-a-uuid",
			wantCode: 400,
		},
		{
			name:     "no database",
			id:       id.String(),
			noRepo:   true,
			wantCode: 503,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockResultRepository{}
			if tt.mockSetup != nil {
				tt.mockSetup(repo)
			}
			h := NewRunHandler(&MockRunSource{}, repo)
			if tt.noRepo {
				h = NewRunHandler(&MockRunSource{}, nil)
			}

			resp, err := h.GetStoredRun(context.Background(), &models.GetStoredRunRequest{ID: tt.id})
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, statusCode(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, resp.Body.ID)
			repo.AssertExpectations(t)
		})
	}
}

func TestGetStoredResults(t *testing.T) {
	id := uuid.New()
	repo := &MockResultRepository{}
	repo.On("GetResults", mock.Anything, id, models.KindAM).Return(nil, nil)
	repo.On("GetResults", mock.Anything, id, models.KindFM).Return(nil, errors.New("boom"))

	h := NewRunHandler(&MockRunSource{}, repo)

	resp, err := h.GetStoredResults(context.Background(), &models.GetStoredResultsRequest{ID: id.String(), Kind: "am_modulation"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Body.Results)
	assert.Empty(t, resp.Body.Results)

	_, err = h.GetStoredResults(context.Background(), &models.GetStoredResultsRequest{ID: id.String(), Kind: "fm_modulation"})
	assert.Equal(t, 500, statusCode(t, err))
}
