package procedure

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/internal/telemetry"
	"github.com/RMahshie/sigcal/internal/validation"
	"github.com/RMahshie/sigcal/pkg/models"
	pkgerrors "github.com/pkg/errors"
)

const (
	zeroingSettle    = 20 * time.Second
	cableLossSettle  = 31 * time.Second
	levelStimulusCmd = "SOUR:POW:LEV:IMM:AMPL "
)

// Level measures carrier power and its uncertainty with the analyzer's
// power meter
type Level struct {
	runner
	sweep sweep
}

// NewLevel returns the level procedure
func NewLevel(mode models.Mode, opts ...Option) *Level {
	l := &Level{runner: newRunner(models.KindLevel, mode, opts)}
	l.sweep = sweep{
		stimulus:   levelStimulusCmd,
		primary:    "CALC:MARK:FUNC:CARR:RES?",
		secondary:  "CALC:MARK:FUNC:CARR:SUNC?",
		validate:   validation.ValidateLevelMeasurement,
		synthesize: l.synthesize,
	}
	return l
}

// Setup tunes the stimulus to freq, zeroes the power meter and collects the
// cable loss correction before the stimulus is re-armed.
func (l *Level) Setup(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint) error {
	return l.runSetup(ctx, pair, []step{
		{
			commands: []string{
				"SOUR:FREQ:MODE CW",
				"SOUR:FREQ:CW " + freq.Value,
				levelStimulusCmd + "0",
				"OUTP:ALL:STAT ON",
			},
		},
		{
			analyzer: true,
			commands: []string{
				"SYST:DISP:UPD ON",
				"INST:SEL MREC",
				"ROSC:SOUR EXT",
				"SENS:PMET:STAT ON",
			},
			settle: analyzerSettle,
		},
		{
			analyzer: true,
			commands: []string{
				"UNIT:PMET:POW DBM",
				"SYST:COMM:RDEV:PMET:TYPE 'NRVD'",
				"CAL:PMET:ZERO:AUTO ONCE; *WAI",
			},
			settle: zeroingSettle,
		},
		{
			analyzer: true,
			commands: []string{
				"POW:AC:STAT ON",
				"FREQ:CENT " + freq.Display,
			},
			settle: analyzerSettle,
		},
		{
			analyzer: true,
			commands: []string{
				"SWE:TIME 1S",
				"SENS:POW:AC:AVER:AUTO ON",
				"SENS:DET:FUNC NARROW",
				"INP:ATT:REC:AUTO:STAT ON",
				"FREQ:CENT " + freq.Display,
				"CORR:COLL PSPL",
			},
			settle: cableLossSettle,
		},
		{
			commands: []string{
				"SOUR:FREQ:MODE CW",
				"SOUR:FREQ:CW " + freq.Value,
				"OUTP:ALL:STAT ON",
			},
		},
	})
}

// Sweep steps the output level through points and returns one validated
// carrier reading per point
func (l *Level) Sweep(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint, points []models.SweepPoint, pub telemetry.Publisher) ([]models.Result, error) {
	return l.runSweep(ctx, pair, freq, points, pub, l.sweep)
}

func (l *Level) synthesize(freqMHz float64, level string) (float64, float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(level), 64)
	if err != nil {
		return 0, 0, pkgerrors.Wrapf(err, "invalid level %q", level)
	}
	return v + l.uniform(-0.3, 0.3), freqMHz / 3000 * l.uniform(0.1, 0.3), nil
}
