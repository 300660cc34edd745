package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	status  models.GetRunStatusResponseBody
	summary models.RunSummary
	results []models.Result
}

func (s stubSource) Status() models.GetRunStatusResponseBody { return s.status }
func (s stubSource) Summary() models.RunSummary { return s.summary }
func (s stubSource) Results(kind models.Kind) []models.Result {
	var out []models.Result
	for _, r := range s.results {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func serve(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	source := stubSource{
		status: models.GetRunStatusResponseBody{
			ID:    "run-1",
			Mode:  models.ModeSimulated,
			State: models.StatePerFrequency,
		},
		summary: models.RunSummary{
			Warnings: []models.WarningRecord{{Message: "Analyzer Error: Mock Error: Temperature warning"}},
		},
		results: []models.Result{
			models.NewResult(models.KindAM, "100MHz", "30PCT", 30.2, 0.04, at),
			models.NewResult(models.KindLevel, "100MHz", "-10", -10.1, 0.02, at),
		},
	}
	router := NewRouter(config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}}, source, nil)

	t.Run("health", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
	})

	t.Run("status", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body models.GetRunStatusResponseBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "run-1", body.ID)
		assert.Equal(t, models.StatePerFrequency, body.State)
	})

	t.Run("errors", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/run/errors", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Temperature warning")
		assert.Contains(t, rec.Body.String(), `"errors":[]`)
	})

	t.Run("results filtered", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/run/results?kind=am_modulation", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"primary":30.2`)
		assert.Contains(t, rec.Body.String(), `"timestamp":"2024-01-01T10:00:00Z"`)
		assert.NotContains(t, rec.Body.String(), "level_measurement")
	})

	t.Run("results unknown kind", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/run/results?kind=pm", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("history disabled without database", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/runs/3f2b9e0c-1d2a-4a47-9f4b-2f1f6a0b7c11", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cors", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/run", map[string]string{"Origin": "http://localhost:3000"})
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNewServer(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: ":9090"}, stubSource{}, nil)
	assert.Equal(t, ":9090", srv.Addr)
	assert.NotNil(t, srv.Handler)
}

func TestResultsMatchDocumentedSchema(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	source := stubSource{results: []models.Result{
		models.NewResult(models.KindFM, "1GHz", "5KHZ", 5012.5, 0.31, at),
	}}

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Calibration API", "test"))
	RegisterRoutes(api, source, nil)

	schema, ok := api.OpenAPI().Components.Schemas.Map()["ResultRecord"]
	require.True(t, ok, "results schema is not documented")
	var documented []string
	for name := range schema.Properties {
		documented = append(documented, name)
	}

	rec := serve(t, router, http.MethodGet, "/api/run/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)

	var served []string
	for name := range body.Results[0] {
		served = append(served, name)
	}
	assert.ElementsMatch(t, documented, served)

	ts, err := time.Parse(time.RFC3339, body.Results[0]["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))
	assert.Equal(t, "date-time", schema.Properties["timestamp"].Format)
}
