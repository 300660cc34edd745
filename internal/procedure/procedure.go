// Package procedure implements the AM, FM and level calibration procedures:
// the fixed instrument setup for a frequency point and the sweep over the
// configured stimulus values.
package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/internal/telemetry"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// simulatedTimeScale shortens every wait in simulated mode
const simulatedTimeScale = 10

// Procedure is one measurement class of the calibration recipe
type Procedure interface {
	Kind() models.Kind
	Setup(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint) error
	Sweep(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint, points []models.SweepPoint, pub telemetry.Publisher) ([]models.Result, error)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the wall clock Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a procedure
type Option func(*runner)

// WithSleeper replaces the wall clock wait
func WithSleeper(s Sleeper) Option {
	return func(r *runner) { r.sleep = s }
}

// WithRand sets the random source for simulated readings
func WithRand(rng *rand.Rand) Option {
	return func(r *runner) { r.rng = rng }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithClock sets the source of result timestamps
func WithClock(now func() time.Time) Option {
	return func(r *runner) { r.now = now }
}

// New returns the procedure for kind
func New(kind models.Kind, mode models.Mode, opts ...Option) (Procedure, error) {
	switch kind {
	case models.KindAM:
		return NewAM(mode, opts...), nil
	case models.KindFM:
		return NewFM(mode, opts...), nil
	case models.KindLevel:
		return NewLevel(mode, opts...), nil
	}
	return nil, fmt.Errorf("unknown procedure kind %q", kind)
}

// runner holds what every procedure shares: the mode, the clock and the
// sweep loop.
type runner struct {
	kind   models.Kind
	mode   models.Mode
	sleep  Sleeper
	rng    *rand.Rand
	logger zerolog.Logger
	now    func() time.Time
}

func newRunner(kind models.Kind, mode models.Mode, opts []Option) runner {
	r := runner{
		kind:   kind,
		mode:   mode,
		sleep:  Sleep,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().Unix()))),
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&r)
	}
	r.logger = r.logger.With().Str("procedure", string(kind)).Logger()
	return r
}

func (r *runner) Kind() models.Kind { return r.kind }

func (r *runner) simulated() bool { return r.mode == models.ModeSimulated }

// wait applies a settle time, shortened in simulated mode
func (r *runner) wait(ctx context.Context, d time.Duration) error {
	if r.simulated() {
		d /= simulatedTimeScale
	}
	return r.sleep(ctx, d)
}

// step is a group of commands sent to one instrument followed by a settle time
type step struct {
	analyzer bool
	commands []string
	settle   time.Duration
}

func (r *runner) runSetup(ctx context.Context, pair *instrument.Pair, steps []step) error {
	for _, s := range steps {
		gw := pair.Stimulus
		if s.analyzer {
			gw = pair.Analyzer
		}
		for _, cmd := range s.commands {
			if err := gw.WriteCommand(ctx, cmd); err != nil {
				return err
			}
		}
		if s.settle > 0 {
			if err := r.wait(ctx, s.settle); err != nil {
				return err
			}
		}
	}
	return nil
}

// sweep describes how one procedure drives and reads a point
type sweep struct {
	stimulus  string // command prefix, the point value is appended
	primary   string
	secondary string
	validate  func(primary, secondary float64) error
	// synthesize produces simulated readings for a point
	synthesize func(freqMHz float64, value string) (primary, secondary float64, err error)
}

// runSweep drives every point in order. Results already measured are
// returned alongside an error.
func (r *runner) runSweep(ctx context.Context, pair *instrument.Pair, freq models.FrequencyPoint, points []models.SweepPoint, pub telemetry.Publisher, sw sweep) ([]models.Result, error) {
	var freqMHz float64
	if r.simulated() {
		hz, err := freq.Hz()
		if err != nil {
			return nil, fmt.Errorf("invalid frequency value %q: %w", freq.Value, err)
		}
		freqMHz = hz / 1e6
	}

	results := make([]models.Result, 0, len(points))
	for _, point := range points {
		if err := pair.Stimulus.WriteCommand(ctx, sw.stimulus+point.Value); err != nil {
			return results, err
		}
		if err := r.wait(ctx, point.Delay); err != nil {
			return results, err
		}

		var primary, secondary float64
		var err error
		if r.simulated() {
			primary, secondary, err = sw.synthesize(freqMHz, point.Value)
		} else {
			primary, secondary, err = r.read(ctx, pair.Analyzer, sw)
		}
		if err != nil {
			return results, err
		}
		if err := sw.validate(primary, secondary); err != nil {
			return results, err
		}

		result := models.NewResult(r.kind, freq.Display, point.Value, primary, secondary, r.now())
		results = append(results, result)
		r.publish(ctx, pub, result)

		r.logger.Debug().
			Str("frequency", freq.Display).
			Str("point", point.Value).
			Float64("primary", result.Primary).
			Float64("secondary", result.Secondary).
			Msg("Point measured")

		if err := r.wait(ctx, point.Delay); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *runner) read(ctx context.Context, analyzer instrument.Gateway, sw sweep) (float64, float64, error) {
	primary, err := analyzer.QueryFloat(ctx, sw.primary)
	if err != nil {
		return 0, 0, err
	}
	secondary, err := analyzer.QueryFloat(ctx, sw.secondary)
	if err != nil {
		return 0, 0, err
	}
	return primary, secondary, nil
}

// publish is best effort; failures are logged and the sweep continues
func (r *runner) publish(ctx context.Context, pub telemetry.Publisher, result models.Result) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode result")
		return
	}
	if err := pub.Publish(ctx, r.kind.Topic(), payload, telemetry.QoSAtLeastOnce); err != nil {
		r.logger.Warn().Err(err).Str("topic", r.kind.Topic()).Msg("Failed to publish result")
	}
}

func (r *runner) uniform(lo, hi float64) float64 {
	return lo + r.rng.Float64()*(hi-lo)
}
