package procedure

import (
	"context"
	"fmt"
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
	carrierSettle  = 5 * time.Second
	analyzerSettle = 8 * time.Second
)

// Modulation measures AM depth or FM deviation together with distortion
type Modulation struct {
	runner
	feed   string // analyzer time domain feed
	enable string // stimulus modulation switch
	sweep  sweep
}

// NewAM returns the AM depth procedure
func NewAM(mode models.Mode, opts ...Option) *Modulation {
	m := &Modulation{
		runner: newRunner(models.KindAM, mode, opts),
		feed:   "XTIM:AM:REL",
		enable: "SOUR:AM:STAT ON",
	}
	m.sweep = sweep{
		stimulus:   "SOUR:AM:DEPT ",
		primary:    "CALC:MARK:FUNC:ADEM:AM? PAV",
		secondary:  "CALC:MARK:FUNC:ADEM:DIST:RES?",
		validate:   validation.ValidateAMMeasurement,
		synthesize: m.synthesizeAM,
	}
	return m
}

// NewFM returns the FM deviation procedure
func NewFM(mode models.Mode, opts ...Option) *Modulation {
	m := &Modulation{
		runner: newRunner(models.KindFM, mode, opts),
		feed:   "XTIM:FM:REL",
		enable: "SOUR:FM:STAT ON",
	}
	m.sweep = sweep{
		stimulus:   "SOUR:FM:INT:DEV ",
		primary:    "CALC:MARK:FUNC:ADEM:FM? PAV",
		secondary:  "CALC:MARK:FUNC:ADEM:DIST:RES?",
		validate:   validation.ValidateFMMeasurement,
		synthesize: m.synthesizeFM,
	}
	return m
}

// Setup tunes the stimulus to freq, points the analyzer's demodulator at
// the modulation feed and switches the modulation on. Simulated runs wait a
// tenth of each settle time.
func (m *Modulation) Setup(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint) error {
	return m.runSetup(ctx, pair, []step{
		{
			commands: []string{
				"SOUR:FREQ:MODE CW",
				"SOUR:FREQ:CW " + freq.Value,
				"SOUR:POW:LEV:IMM:AMPL 0",
				"OUTP:ALL:STAT ON",
			},
			settle: carrierSettle,
		},
		{
			analyzer: true,
			commands: []string{
				"SYST:DISP:UPD ON",
				"INST:SEL MREC",
				"ROSC:SOUR EXT",
				fmt.Sprintf("CALC2:FEED '%s'", m.feed),
				"FREQ:CENT " + freq.Display,
			},
			settle: analyzerSettle,
		},
		{
			analyzer: true,
			commands: []string{
				"ADEM:DET:PAV ON",
				"ADEM:DET:THD ON",
				"ADEM:DET:SINAD ON",
				"FILT:HPAS ON",
				"FILT:HPAS:FREQ 300 HZ",
				"FILT:LPAS ON",
				"FILT:LPAS:FREQ 3 KHZ",
			},
		},
		{commands: []string{m.enable}},
	})
}

// Sweep drives each depth or deviation point in order and returns one
// validated result per point. A point that fails validation stops the sweep.
func (m *Modulation) Sweep(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint, points []models.SweepPoint, pub telemetry.Publisher) ([]models.Result, error) {
	return m.runSweep(ctx, pair, freq, points, pub, m.sweep)
}

func (m *Modulation) synthesizeAM(freqMHz float64, depth string) (float64, float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(depth), "PCT"), 64)
	if err != nil {
		return 0, 0, pkgerrors.Wrapf(err, "invalid modulation depth %q", depth)
	}
	return v + m.uniform(-1, 1), m.distortion(freqMHz), nil
}

func (m *Modulation) synthesizeFM(freqMHz float64, dev string) (float64, float64, error) {
	hz, ok := instrument.ParseHz(dev)
	if !ok {
		return 0, 0, pkgerrors.Errorf("invalid deviation %q", dev)
	}
	return hz * (1 + m.uniform(-0.01, 0.01)), m.distortion(freqMHz), nil
}

func (m *Modulation) distortion(freqMHz float64) float64 {
	return freqMHz / 3000 * m.uniform(1, 5)
}
