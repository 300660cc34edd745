package api

import (
	"context"
	"net/http"
	"time"

	"github.com/RMahshie/sigcal/internal/api/handlers"
	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/danielgtaylor/huma/v2"
)

// Version is reported by the health endpoint
var Version = "dev"

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, source handlers.RunSource, repo repository.ResultRepository) {
	runHandler := handlers.NewRunHandler(source, repo)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{}
		resp.Body.Status = "healthy"
		resp.Body.Version = Version
		resp.Body.Time = time.Now()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getRunStatus",
		Method:      http.MethodGet,
		Path:        "/api/run",
		Summary:     "Get run status",
		Description: "Returns the state and progress of the calibration run",
		Tags:        []string{"Run"},
	}, runHandler.GetRunStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getRunErrors",
		Method:      http.MethodGet,
		Path:        "/api/run/errors",
		Summary:     "Get run errors",
		Description: "Returns the errors and warnings logged during the run",
		Tags:        []string{"Run"},
	}, runHandler.GetRunErrors)

	huma.Register(api, huma.Operation{
		OperationID: "getRunResults",
		Method:      http.MethodGet,
		Path:        "/api/run/results",
		Summary:     "Get run results",
		Description: "Returns the measurements recorded so far",
		Tags:        []string{"Run"},
	}, runHandler.GetRunResults)

	if repo == nil {
		return
	}

	huma.Register(api, huma.Operation{
		OperationID: "getStoredRun",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}",
		Summary:     "Get stored run",
		Description: "Returns a run from the results database",
		Tags:        []string{"History"},
	}, runHandler.GetStoredRun)

	huma.Register(api, huma.Operation{
		OperationID: "getStoredResults",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/results",
		Summary:     "Get stored results",
		Description: "Returns the results of a run from the results database",
		Tags:        []string{"History"},
	}, runHandler.GetStoredResults)
}
