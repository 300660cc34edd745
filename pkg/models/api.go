package models

import (
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// GetRunStatusResponseBody is the body of the run status response
type GetRunStatusResponseBody struct {
	ID                string    `json:"id" doc:"Run identifier"`
	Mode              Mode      `json:"mode" enum:"live,simulated" doc:"Data source of the run"`
	State             RunState  `json:"state" enum:"idle,initializing,per_frequency,finalizing,done" doc:"Orchestrator state"`
	Frequency         string    `json:"frequency,omitempty" doc:"Frequency point being processed"`
	Procedure         Kind      `json:"procedure,omitempty" doc:"Procedure being executed"`
	FrequenciesDone   int       `json:"frequencies_done" doc:"Frequency points completed without error"`
	FrequenciesTotal  int       `json:"frequencies_total" doc:"Configured frequency points"`
	TotalMeasurements int       `json:"total_measurements" doc:"Measurements recorded so far"`
	Errors            int       `json:"errors" doc:"Errors logged so far"`
	Warnings          int       `json:"warnings" doc:"Warnings logged so far"`
	StartedAt         time.Time `json:"started_at" doc:"Run start time"`
}

// GetRunStatusResponse represents the current status of the run
type GetRunStatusResponse struct {
	Body GetRunStatusResponseBody
}

// GetRunErrorsResponse lists errors and warnings collected so far
type GetRunErrorsResponse struct {
	Body struct {
		Errors   []ErrorRecord   `json:"errors" doc:"Errors in the order they were logged"`
		Warnings []WarningRecord `json:"warnings" doc:"Warnings in the order they were logged"`
	}
}

// GetRunResultsRequest selects a class of results
type GetRunResultsRequest struct {
	Kind string `query:"kind" enum:"am_modulation,fm_modulation,level_measurement" doc:"Only return results of this kind"`
}

// ResultRecord is a Result as served by the API
type ResultRecord struct {
	Kind      Kind      `json:"kind" enum:"am_modulation,fm_modulation,level_measurement" doc:"Procedure that produced the result"`
	Frequency string    `json:"frequency" example:"100MHz" doc:"Carrier frequency label"`
	Stimulus  string    `json:"stimulus" example:"30" doc:"Depth, deviation or level requested from the generator"`
	Primary   float64   `json:"primary" doc:"AM depth (%), FM deviation (Hz) or level (dBm)"`
	Secondary float64   `json:"secondary" doc:"Distortion (%), or uncertainty (dB) for level results"`
	Timestamp time.Time `json:"timestamp" doc:"When the point was measured"`
}

// NewResultRecords converts results for an API body. The slice is never nil.
func NewResultRecords(results []Result) []ResultRecord {
	out := make([]ResultRecord, 0, len(results))
	for _, r := range results {
		out = append(out, ResultRecord{
			Kind:      r.Kind,
			Frequency: r.Frequency,
			Stimulus:  r.Stimulus,
			Primary:   r.Primary,
			Secondary: r.Secondary,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

// GetRunResultsResponse lists results recorded so far
type GetRunResultsResponse struct {
	Body struct {
		Results []ResultRecord `json:"results" doc:"Recorded results in measurement order"`
	}
}

// GetStoredRunRequest selects a run stored in the results repository
type GetStoredRunRequest struct {
	ID string `path:"id" format:"uuid" doc:"Run identifier"`
}

// GetStoredRunResponse is a run read back from the results repository
type GetStoredRunResponse struct {
	Body Run
}

// GetStoredResultsRequest selects results of a stored run
type GetStoredResultsRequest struct {
	ID   string `path:"id" format:"uuid" doc:"Run identifier"`
	Kind string `query:"kind" enum:"am_modulation,fm_modulation,level_measurement" doc:"Only return results of this kind"`
}
