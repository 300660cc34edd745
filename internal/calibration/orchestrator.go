// Package calibration drives one calibration run from start to the
// completion report.
package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/internal/monitor"
	"github.com/RMahshie/sigcal/internal/notification"
	"github.com/RMahshie/sigcal/internal/procedure"
	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/internal/resultlog"
	"github.com/RMahshie/sigcal/internal/storage"
	"github.com/RMahshie/sigcal/internal/telemetry"
	"github.com/RMahshie/sigcal/internal/validation"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// ConnectFunc opens the telemetry stream of a run
type ConnectFunc func(ctx context.Context) (telemetry.Publisher, error)

// AcquireFunc opens both instruments of a run
type AcquireFunc func(ctx context.Context) (*instrument.Pair, error)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConnect replaces the telemetry connection
func WithConnect(fn ConnectFunc) Option {
	return func(o *Orchestrator) { o.connect = fn }
}

// WithAcquire replaces instrument acquisition
func WithAcquire(fn AcquireFunc) Option {
	return func(o *Orchestrator) { o.acquire = fn }
}

// WithRepository stores runs and results in repo
func WithRepository(repo repository.ResultRepository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// WithArchiver uploads the results files once the run is over
func WithArchiver(a storage.Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithProcedureOptions passes options to every procedure
func WithProcedureOptions(opts ...procedure.Option) Option {
	return func(o *Orchestrator) { o.procOpts = append(o.procOpts, opts...) }
}

// WithClock sets the clock used for run timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the configured procedures at every frequency point.
// A single goroutine drives Run; Status and Results may be called
// concurrently.
type Orchestrator struct {
	cfg      *config.Config
	sink     notification.Sink
	connect  ConnectFunc
	acquire  AcquireFunc
	repo     repository.ResultRepository
	archiver storage.Archiver
	procOpts []procedure.Option
	now      func() time.Time
	id       uuid.UUID
	logger   zerolog.Logger

	mu        sync.Mutex
	state     models.RunState
	frequency string
	current   models.Kind
	done      int
	startedAt time.Time
	results   []models.Result
}

// session holds what a run acquires and finalization releases
type session struct {
	run        *models.Run
	pub        telemetry.Publisher
	pair       *instrument.Pair
	files      *resultlog.Files
	mon        *monitor.Monitor
	registered bool
}

// New returns an idle orchestrator for cfg reporting to sink
func New(cfg *config.Config, sink notification.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		sink:  sink,
		now:   time.Now,
		id:    uuid.New(),
		state: models.StateIdle,
	}
	o.connect = func(ctx context.Context) (telemetry.Publisher, error) {
		return telemetry.Connect(ctx, cfg.Telemetry)
	}
	o.acquire = AcquirePair(cfg)
	for _, opt := range opts {
		opt(o)
	}
	o.logger = log.With().Str("run_id", o.id.String()).Str("mode", string(cfg.Mode)).Logger()
	return o
}

// ID returns the run identifier
func (o *Orchestrator) ID() uuid.UUID { return o.id }

// Run executes the whole run. Finalization always happens, also when ctx
// is cancelled. The returned error combines initialization and cleanup
// failures; per frequency failures are only reported to the sink.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.state != models.StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("run %s already started", o.id)
	}
	o.state = models.StateInitializing
	o.startedAt = o.now()
	o.mu.Unlock()

	s := &session{
		run: &models.Run{
			ID:        o.id,
			Mode:      o.cfg.Mode,
			Status:    models.RunStatusRunning,
			StartedAt: o.startedAt,
		},
		pub: telemetry.Noop{},
	}
	defer func() {
		err = multierr.Append(err, o.finalize(context.WithoutCancel(ctx), s))
	}()

	o.logger.Info().
		Int("frequencies", len(o.cfg.FrequencyPoints)).
		Strs("procedures", o.cfg.Procedures).
		Msg("Calibration started")

	procs, err := o.initialize(ctx, s)
	if err != nil {
		o.logger.Error().Err(err).Msg("Calibration initialization failed")
		o.sink.LogError(ctx, fmt.Sprintf("Critical error: %v", err), err)
		return err
	}

	o.setState(models.StatePerFrequency)
	for _, point := range o.cfg.FrequencyPoints {
		if ctx.Err() != nil {
			break
		}
		o.setFrequency(point.Display)

		err := isolate(func() error { return o.processFrequency(ctx, s, procs, point) })
		if err != nil && ctx.Err() == nil {
			o.logger.Error().Err(err).Str("frequency", point.Display).Msg("Frequency failed")
			o.sink.LogError(ctx, fmt.Sprintf("Error processing frequency %s: %v", point.Display, err), err)
		}
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			o.frequencyDone()
		}
	}
	if ctx.Err() != nil {
		o.logger.Warn().Msg("Calibration interrupted")
		o.sink.LogWarning("Calibration interrupted before all frequencies were processed")
	}
	return nil
}

// initialize acquires everything the frequency loop needs. Telemetry and
// repository failures degrade the run, the rest abort it.
func (o *Orchestrator) initialize(ctx context.Context, s *session) ([]procedure.Procedure, error) {
	kinds, err := o.cfg.ProcedureKinds()
	if err != nil {
		return nil, err
	}
	procOpts := append([]procedure.Option{
		procedure.WithLogger(o.logger),
		procedure.WithClock(o.now),
	}, o.procOpts...)
	procs := make([]procedure.Procedure, 0, len(kinds))
	for _, kind := range kinds {
		p, err := procedure.New(kind, o.cfg.Mode, procOpts...)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}

	pub, err := o.connect(ctx)
	if err != nil {
		o.sink.LogError(ctx, fmt.Sprintf("Telemetry connection failed: %v", err), err)
	} else if pub != nil {
		s.pub = pub
	}

	pair, err := o.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instruments: %w", err)
	}
	s.pair = pair

	files, err := resultlog.Open(o.cfg.OutputDir, o.cfg.Mode)
	if err != nil {
		return nil, err
	}
	s.files = files

	if o.cfg.Monitor.Enabled {
		s.mon = monitor.New(pair, o.sink, o.cfg.Monitor.Interval)
		s.mon.Start(ctx)
	}

	if o.repo != nil {
		if err := o.repo.CreateRun(ctx, s.run); err != nil {
			o.sink.LogWarning(fmt.Sprintf("Failed to register run in database: %v", err))
		} else {
			s.registered = true
		}
	}
	return procs, nil
}

func (o *Orchestrator) processFrequency(ctx context.Context, s *session, procs []procedure.Procedure, point models.FrequencyPoint) error {
	if err := validation.ValidateFrequencyPoint(point); err != nil {
		return err
	}
	for _, p := range procs {
		o.setProcedure(p.Kind())
		o.logger.Info().Str("frequency", point.Display).Str("procedure", string(p.Kind())).Msg("Running procedure")

		if err := instrument.Reset(ctx, s.pair); err != nil {
			return err
		}
		if err := p.Setup(ctx, s.pair, point); err != nil {
			return err
		}
		results, err := p.Sweep(ctx, s.pair, point, o.cfg.SweepPoints(p.Kind()), s.pub)
		for _, r := range results {
			o.record(ctx, s, r)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// record hands a result to every destination. Only the sink is mandatory;
// file and database failures become warnings.
func (o *Orchestrator) record(ctx context.Context, s *session, r models.Result) {
	o.mu.Lock()
	o.results = append(o.results, r)
	o.mu.Unlock()

	o.sink.LogMeasurement(r)
	if err := s.files.Append(r); err != nil {
		o.sink.LogWarning(fmt.Sprintf("Failed to write result to file: %v", err))
	}
	if s.registered {
		if err := o.repo.StoreResult(ctx, s.run.ID, r); err != nil {
			o.sink.LogWarning(fmt.Sprintf("Failed to store result in database: %v", err))
		}
	}
}

// finalize releases everything the run acquired and sends the report.
// Each step runs regardless of earlier failures.
func (o *Orchestrator) finalize(ctx context.Context, s *session) error {
	o.setState(models.StateFinalizing)

	var errs error
	if s.mon != nil {
		s.mon.Stop()
	}
	if s.pair != nil {
		if err := s.pair.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close instruments: %w", err))
		}
	}
	if err := s.pub.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close telemetry: %w", err))
	}
	if s.files != nil {
		if err := s.files.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close results files: %w", err))
		} else if o.archiver != nil {
			keys, err := o.archiver.Archive(ctx, o.id.String(), s.files.Paths())
			if err != nil {
				o.sink.LogWarning(fmt.Sprintf("Failed to archive results files: %v", err))
			} else {
				for _, key := range keys {
					url, err := o.archiver.DownloadURL(ctx, key)
					if err != nil {
						o.logger.Warn().Err(err).Str("key", key).Msg("Failed to presign results file")
						continue
					}
					o.logger.Info().Str("key", key).Str("url", url).Msg("Results archived")
				}
			}
		}
	}

	if s.registered {
		summary := o.sink.Snapshot()
		finished := o.now()
		s.run.FinishedAt = &finished
		s.run.Status = models.RunStatusCompleted
		s.run.Total = summary.TotalMeasurements
		s.run.Errors = len(summary.Errors)
		s.run.Warnings = len(summary.Warnings)
		if err := o.repo.CompleteRun(ctx, s.run); err != nil {
			o.sink.LogWarning(fmt.Sprintf("Failed to complete run in database: %v", err))
		}
	}

	if err := o.sink.SendCompletionNotification(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, err := range multierr.Errors(errs) {
		o.logger.Error().Err(err).Msg("Finalization step failed")
	}

	o.setState(models.StateDone)
	o.logger.Info().Msg("Calibration finished")
	return errs
}

// isolate runs fn and turns a panic into an error so one frequency cannot
// take the run down
func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Status reports the run progress
func (o *Orchestrator) Status() models.GetRunStatusResponseBody {
	summary := o.sink.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()
	return models.GetRunStatusResponseBody{
		ID:                o.id.String(),
		Mode:              o.cfg.Mode,
		State:             o.state,
		Frequency:         o.frequency,
		Procedure:         o.current,
		FrequenciesDone:   o.done,
		FrequenciesTotal:  len(o.cfg.FrequencyPoints),
		TotalMeasurements: summary.TotalMeasurements,
		Errors:            len(summary.Errors),
		Warnings:          len(summary.Warnings),
		StartedAt:         o.startedAt,
	}
}

// Summary returns a copy of everything recorded so far
func (o *Orchestrator) Summary() models.RunSummary {
	return o.sink.Snapshot()
}

// Results returns the results recorded so far in measurement order. An
// empty kind returns every class.
func (o *Orchestrator) Results(kind models.Kind) []models.Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]models.Result, 0, len(o.results))
	for _, r := range o.results {
		if kind == "" || r.Kind == kind {
			results = append(results, r)
		}
	}
	return results
}

func (o *Orchestrator) setState(state models.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	if state == models.StateFinalizing || state == models.StateDone {
		o.current = ""
	}
}

func (o *Orchestrator) setFrequency(display string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frequency = display
}

func (o *Orchestrator) setProcedure(kind models.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = kind
}

func (o *Orchestrator) frequencyDone() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done++
}
