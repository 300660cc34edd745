// Package validation range-checks measurement readings and checks the shape
// of configured frequency points before they are used.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/RMahshie/sigcal/pkg/models"
	pkgerrors "github.com/pkg/errors"
)

// ErrValidation is matched by every error returned from this package
var ErrValidation = errors.New("validation failed")

// RangeError reports a reading outside its accepted interval
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
	Unit  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s value %v out of range (%v to %v %s)", e.Field, e.Value, e.Min, e.Max, e.Unit)
}

func (e *RangeError) Is(target error) bool { return target == ErrValidation }

// ShapeError reports a frequency point missing required fields
type ShapeError struct {
	Missing []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("frequency point missing required keys: %s", strings.Join(e.Missing, ", "))
}

func (e *ShapeError) Is(target error) bool { return target == ErrValidation }

// FormatError reports a frequency value that is not a number
type FormatError struct {
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid frequency value format: %q", e.Value)
}

func (e *FormatError) Is(target error) bool { return target == ErrValidation }

var requiredFrequencyKeys = []string{"display", "value"}

// ValidateAMMeasurement checks an AM depth and its distortion, both in percent
func ValidateAMMeasurement(amValue, distortion float64) error {
	if err := inRange("AM", amValue, 0, 100, "%"); err != nil {
		return err
	}
	return inRange("Distortion", distortion, 0, 100, "%")
}

// ValidateFMMeasurement checks an FM deviation in Hz and its distortion in percent
func ValidateFMMeasurement(fmValue, distortion float64) error {
	if err := inRange("FM", fmValue, 0, math.MaxFloat64, "Hz"); err != nil {
		return err
	}
	return inRange("Distortion", distortion, 0, 100, "%")
}

// ValidateLevelMeasurement checks a level in dBm and its uncertainty in dB
func ValidateLevelMeasurement(level, uncertainty float64) error {
	if err := inRange("Level", level, -150, 30, "dBm"); err != nil {
		return err
	}
	return inRange("Uncertainty", uncertainty, 0, 3, "dB")
}

// ValidateFrequencyPoint checks that both fields are present and that the
// value parses as a number once the exponent marker is normalized.
func ValidateFrequencyPoint(point models.FrequencyPoint) error {
	var missing []string
	if strings.TrimSpace(point.Display) == "" {
		missing = append(missing, "display")
	}
	if strings.TrimSpace(point.Value) == "" {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return pkgerrors.WithStack(&ShapeError{Missing: missing})
	}
	return validateFrequencyValue(point.Value)
}

// ValidateFrequencyFields runs the same checks on a raw configuration entry,
// where an absent key and an empty one can be told apart.
func ValidateFrequencyFields(fields map[string]any) error {
	var missing []string
	for _, key := range requiredFrequencyKeys {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return pkgerrors.WithStack(&ShapeError{Missing: missing})
	}
	return validateFrequencyValue(fmt.Sprint(fields["value"]))
}

func validateFrequencyValue(value string) error {
	normalized := strings.ReplaceAll(strings.TrimSpace(value), "e", "E")
	if _, err := strconv.ParseFloat(normalized, 64); err != nil {
		return pkgerrors.WithStack(&FormatError{Value: value})
	}
	return nil
}

func inRange(field string, v, lo, hi float64, unit string) error {
	// NaN fails both comparisons, so test for containment
	if v >= lo && v <= hi {
		return nil
	}
	return pkgerrors.WithStack(&RangeError{Field: field, Value: v, Min: lo, Max: hi, Unit: unit})
}
