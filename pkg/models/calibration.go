package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags a Result with the procedure that produced it
type Kind string

const (
	KindAM    Kind = "am_modulation"
	KindFM    Kind = "fm_modulation"
	KindLevel Kind = "level_measurement"
)

// Topic returns the telemetry topic results of this kind are published on
func (k Kind) Topic() string {
	return "calibration/" + string(k)
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindAM, KindFM, KindLevel:
		return true
	}
	return false
}

// Decimal places kept on recorded measurement values.
const (
	ModulationPrecision  = 3
	DistortionPrecision  = 3
	LevelPrecision       = 3
	UncertaintyPrecision = 4
)

// FrequencyPoint is one configured carrier frequency.
// Display is the human label sent to the analyzer ("100MHz"); Value is the
// SCPI-formatted frequency sent to the stimulus ("100E6").
type FrequencyPoint struct {
	Display string `json:"display" mapstructure:"display" yaml:"display"`
	Value   string `json:"value" mapstructure:"value" yaml:"value"`
}

// Hz parses Value as a frequency in hertz
func (f FrequencyPoint) Hz() (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(f.Value), "e", "E"), 64)
}

// SweepPoint is one stimulus value in an ordered sweep together with its
// settle delay. The delay is applied before and after the measurement.
type SweepPoint struct {
	Value string        `json:"value"`
	Delay time.Duration `json:"delay"`
}

// Result is a single recorded measurement. Kind selects how Primary and
// Secondary are interpreted:
//
//	am_modulation:     Primary = AM depth (%),   Secondary = distortion (%)
//	fm_modulation:     Primary = deviation (Hz), Secondary = distortion (%)
//	level_measurement: Primary = level (dBm),    Secondary = uncertainty (dB)
type Result struct {
	Kind      Kind
	Frequency string
	Stimulus  string
	Primary   float64
	Secondary float64
	Timestamp time.Time
}

// NewResult builds a Result with values rounded to the precision of its kind
// and the timestamp truncated to the second.
func NewResult(kind Kind, frequency, stimulus string, primary, secondary float64, at time.Time) Result {
	pp, sp := kind.precision()
	return Result{
		Kind:      kind,
		Frequency: frequency,
		Stimulus:  stimulus,
		Primary:   Round(primary, pp),
		Secondary: Round(secondary, sp),
		Timestamp: at.Truncate(time.Second),
	}
}

func (k Kind) precision() (primary, secondary int) {
	if k == KindLevel {
		return LevelPrecision, UncertaintyPrecision
	}
	return ModulationPrecision, DistortionPrecision
}

// Round rounds v to n decimal places using the exact decimal expansion of v,
// so 45.23456 becomes 45.235 and 0.12345 becomes 0.1235.
func Round(v float64, n int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', n, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// Clock formats the result timestamp as HH:MM:SS
func (r Result) Clock() string {
	return r.Timestamp.Format("15:04:05")
}

// LogLine renders the result as a row of its results file
func (r Result) LogLine() string {
	return fmt.Sprintf("%s,%s,%s,%s",
		r.Frequency,
		strconv.FormatFloat(r.Primary, 'f', -1, 64),
		strconv.FormatFloat(r.Secondary, 'f', -1, 64),
		r.Clock())
}

// MarshalJSON emits the telemetry payload, keeping the field names consumers
// of the calibration topics already subscribe to.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindAM:
		return json.Marshal(struct {
			Type       Kind    `json:"type"`
			Frequency  string  `json:"frequency"`
			ModDepth   string  `json:"modDepth"`
			AMValue    float64 `json:"amValue"`
			Distortion float64 `json:"distortion"`
			Timestamp  string  `json:"timestamp"`
		}{r.Kind, r.Frequency, r.Stimulus, r.Primary, r.Secondary, r.Clock()})
	case KindFM:
		return json.Marshal(struct {
			Type         Kind    `json:"type"`
			Frequency    string  `json:"frequency"`
			ModDeviation string  `json:"mod_Deviation"`
			FMValue      float64 `json:"fmValue"`
			Distortion   float64 `json:"distortion"`
			Timestamp    string  `json:"timestamp"`
		}{r.Kind, r.Frequency, r.Stimulus, r.Primary, r.Secondary, r.Clock()})
	case KindLevel:
		return json.Marshal(struct {
			Type        Kind    `json:"type"`
			Frequency   string  `json:"frequency"`
			Level       string  `json:"level"`
			Measured    float64 `json:"measured"`
			Uncertainty float64 `json:"uncertainty"`
			Timestamp   string  `json:"timestamp"`
		}{r.Kind, r.Frequency, r.Stimulus, r.Primary, r.Secondary, r.Clock()})
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
}
