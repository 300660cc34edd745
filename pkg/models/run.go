package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects where measurement data comes from
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// RunState is the orchestrator state machine position
type RunState string

const (
	StateIdle         RunState = "idle"
	StateInitializing RunState = "initializing"
	StatePerFrequency RunState = "per_frequency"
	StateFinalizing   RunState = "finalizing"
	StateDone         RunState = "done"
)

// Run statuses stored by the results repository
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)

// Run represents one calibration run
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Mode       Mode       `json:"mode"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Errors     int        `json:"errors"`
	Warnings   int        `json:"warnings"`
	Total      int        `json:"total_measurements"`
}

// ErrorRecord is an error logged during a run
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace,omitempty"`
}

// WarningRecord is a warning logged during a run
type WarningRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RunSummary is a point-in-time copy of everything collected during a run.
// Modulation holds AM and FM results, Level holds level results.
type RunSummary struct {
	StartTime         time.Time       `json:"start_time"`
	TotalMeasurements int             `json:"total_measurements"`
	Errors            []ErrorRecord   `json:"errors"`
	Warnings          []WarningRecord `json:"warnings"`
	Modulation        []Result        `json:"-"`
	Level             []Result        `json:"-"`
}
