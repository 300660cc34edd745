package calibration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/internal/procedure"
	"github.com/RMahshie/sigcal/internal/telemetry"
	"github.com/RMahshie/sigcal/internal/validation"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSink records everything a run reports
type fakeSink struct {
	mu            sync.Mutex
	errors        []string
	causes        []error
	warnings      []string
	results       []models.Result
	completions   int
	completionErr error
}

func (s *fakeSink) LogError(_ context.Context, msg string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
	s.causes = append(s.causes, cause)
}

func (s *fakeSink) LogWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *fakeSink) LogMeasurement(result models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *fakeSink) SendCompletionNotification(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions++
	return s.completionErr
}

func (s *fakeSink) Snapshot() models.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := models.RunSummary{TotalMeasurements: len(s.results)}
	for _, e := range s.errors {
		summary.Errors = append(summary.Errors, models.ErrorRecord{Message: e})
	}
	for _, w := range s.warnings {
		summary.Warnings = append(summary.Warnings, models.WarningRecord{Message: w})
	}
	return summary
}

// MockPublisher implements telemetry.Publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	args := m.Called(ctx, topic, payload, qos)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockGateway implements instrument.Gateway for testing
type MockGateway struct {
	mock.Mock
	name string
}

func (m *MockGateway) WriteCommand(ctx context.Context, cmd string) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

func (m *MockGateway) QueryString(ctx context.Context, cmd string) (string, error) {
	args := m.Called(ctx, cmd)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockGateway) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGateway) Name() string { return m.name }

// MockRepository implements repository.ResultRepository for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) StoreResult(ctx context.Context, runID uuid.UUID, result models.Result) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *MockRepository) CompleteRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRepository) GetResults(ctx context.Context, runID uuid.UUID, kind models.Kind) ([]models.Result, error) {
	args := m.Called(ctx, runID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Result), args.Error(1)
}

// MockArchiver implements storage.Archiver for testing
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, runID string, paths []string) ([]string, error) {
	args := m.Called(ctx, runID, paths)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArchiver) DownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockArchiver) Fetch(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode:       models.ModeSimulated,
		OutputDir:  t.TempDir(),
		Procedures: []string{"am", "level"},
		FrequencyPoints: []models.FrequencyPoint{
			{Display: "100MHz", Value: "100E6"},
			{Display: "1GHz", Value: "1E9"},
		},
		ModDepths: []config.ModDepth{
			{Depth: "30PCT", Delay: 2},
			{Depth: "80PCT", Delay: 2},
		},
		ModDevs:     []config.ModDev{{Dev: "5E3", Delay: 2}},
		LevelPoints: []config.LevelPoint{{Level: "-10", Delay: 2}},
	}
}

func newPublisher() *MockPublisher {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, telemetry.QoSAtLeastOnce).Return(nil)
	pub.On("Close").Return(nil)
	return pub
}

func newOrchestrator(cfg *config.Config, sink *fakeSink, pub telemetry.Publisher, opts ...Option) *Orchestrator {
	base := []Option{
		WithConnect(func(context.Context) (telemetry.Publisher, error) { return pub, nil }),
		WithProcedureOptions(procedure.WithSleeper(noSleep)),
	}
	return New(cfg, sink, append(base, opts...)...)
}

func TestRunSimulated(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}
	pub := newPublisher()
	o := newOrchestrator(cfg, sink, pub)

	assert.Equal(t, models.StateIdle, o.Status().State)
	require.NoError(t, o.Run(context.Background()))

	// 2 frequencies x (2 depths + 1 level)
	assert.Len(t, sink.results, 6)
	assert.Empty(t, sink.errors)
	assert.Equal(t, 1, sink.completions)
	pub.AssertNumberOfCalls(t, "Publish", 6)
	pub.AssertCalled(t, "Close")

	results := o.Results("")
	require.Len(t, results, 6)
	assert.Equal(t, []models.Kind{
		models.KindAM, models.KindAM, models.KindLevel,
		models.KindAM, models.KindAM, models.KindLevel,
	}, []models.Kind{results[0].Kind, results[1].Kind, results[2].Kind, results[3].Kind, results[4].Kind, results[5].Kind})
	assert.Len(t, o.Results(models.KindAM), 4)
	assert.Empty(t, o.Results(models.KindFM))

	status := o.Status()
	assert.Equal(t, models.StateDone, status.State)
	assert.Equal(t, 2, status.FrequenciesDone)
	assert.Equal(t, 2, status.FrequenciesTotal)
	assert.Equal(t, 6, status.TotalMeasurements)
	assert.Equal(t, o.ID().String(), status.ID)

	am, err := os.ReadFile(filepath.Join(cfg.OutputDir, "MOCK_AM_MOD_Results.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(am)), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "Frequency,AM Modulation (%),Distortion (%),Timestamp", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "100MHz,"))
	assert.True(t, strings.HasPrefix(lines[4], "1GHz,"))

	fm, err := os.ReadFile(filepath.Join(cfg.OutputDir, "MOCK_FM_MOD_Results.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Frequency,FM Modulation (Hz),Distortion (%),Timestamp\n", string(fm))
}

func TestRunWithFM(t *testing.T) {
	cfg := testConfig(t)
	cfg.Procedures = []string{"am", "fm", "level"}
	sink := &fakeSink{}
	o := newOrchestrator(cfg, sink, newPublisher())

	require.NoError(t, o.Run(context.Background()))

	assert.Len(t, o.Results(models.KindFM), 2)
	assert.Len(t, sink.results, 8)
}

func TestRunSkipsInvalidFrequency(t *testing.T) {
	cfg := testConfig(t)
	cfg.FrequencyPoints = []models.FrequencyPoint{
		{Display: "100MHz", Value: "100E6"},
		{Display: "bad", Value: "abc"},
		{Display: "1GHz", Value: "1E9"},
	}
	sink := &fakeSink{}
	o := newOrchestrator(cfg, sink, newPublisher())

	require.NoError(t, o.Run(context.Background()))

	require.Len(t, sink.errors, 1)
	assert.True(t, strings.HasPrefix(sink.errors[0], "Error processing frequency bad: "))
	assert.ErrorIs(t, sink.causes[0], validation.ErrValidation)
	assert.Len(t, sink.results, 6)
	assert.Equal(t, 2, o.Status().FrequenciesDone)
}

func TestRunGatewayErrorContinues(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = models.ModeLive

	analyzer := &MockGateway{name: instrument.AnalyzerName}
	stimulus := &MockGateway{name: instrument.StimulusName}
	busErr := errors.New("bus timeout")
	analyzer.On("WriteCommand", mock.Anything, "*RST").Return(busErr)
	analyzer.On("Close").Return(nil)
	stimulus.On("Close").Return(nil)

	sink := &fakeSink{}
	o := newOrchestrator(cfg, sink, newPublisher(),
		WithAcquire(func(context.Context) (*instrument.Pair, error) {
			return instrument.NewPair(analyzer, stimulus), nil
		}))

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []string{
		"Error processing frequency 100MHz: bus timeout",
		"Error processing frequency 1GHz: bus timeout",
	}, sink.errors)
	analyzer.AssertNumberOfCalls(t, "WriteCommand", 2)
	stimulus.AssertNotCalled(t, "WriteCommand", mock.Anything, mock.Anything)
	analyzer.AssertNumberOfCalls(t, "Close", 1)
	stimulus.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 1, sink.completions)
	assert.Equal(t, 0, o.Status().FrequenciesDone)
}

func TestRunAcquireFailure(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}
	pub := newPublisher()
	o := newOrchestrator(cfg, sink, pub,
		WithAcquire(func(context.Context) (*instrument.Pair, error) {
			return nil, errors.New("no GPIB controller")
		}))

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GPIB controller")

	require.Len(t, sink.errors, 1)
	assert.Contains(t, sink.errors[0], "Critical error")
	assert.Empty(t, sink.results)
	assert.Equal(t, 1, sink.completions)
	pub.AssertCalled(t, "Close")
	assert.Equal(t, models.StateDone, o.Status().State)
}

func TestRunTelemetryFailure(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}
	o := New(cfg, sink,
		WithConnect(func(context.Context) (telemetry.Publisher, error) {
			return nil, errors.New("broker unreachable")
		}),
		WithProcedureOptions(procedure.WithSleeper(noSleep)))

	require.NoError(t, o.Run(context.Background()))

	require.Len(t, sink.errors, 1)
	assert.Equal(t, "Telemetry connection failed: broker unreachable", sink.errors[0])
	assert.Len(t, sink.results, 6)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}
	o := newOrchestrator(cfg, sink, newPublisher())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, o.Run(ctx))

	assert.Empty(t, sink.results)
	assert.Empty(t, sink.errors)
	require.Len(t, sink.warnings, 1)
	assert.Contains(t, sink.warnings[0], "interrupted")
	assert.Equal(t, 1, sink.completions)
	assert.Equal(t, models.StateDone, o.Status().State)
}

func TestRunTwice(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}
	o := newOrchestrator(cfg, sink, newPublisher())

	require.NoError(t, o.Run(context.Background()))
	assert.Error(t, o.Run(context.Background()))
	assert.Equal(t, 1, sink.completions)
}

func TestRunCompletionFailure(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{completionErr: errors.New("smtp down")}
	o := newOrchestrator(cfg, sink, newPublisher())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestRunRepositoryAndArchive(t *testing.T) {
	cfg := testConfig(t)
	sink := &fakeSink{}

	repo := &MockRepository{}
	repo.On("CreateRun", mock.Anything, mock.MatchedBy(func(r *models.Run) bool {
		return r.Status == models.RunStatusRunning && r.Mode == models.ModeSimulated
	})).Return(nil)
	repo.On("StoreResult", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("CompleteRun", mock.Anything, mock.MatchedBy(func(r *models.Run) bool {
		return r.Status == models.RunStatusCompleted && r.Total == 6 && r.FinishedAt != nil
	})).Return(nil)

	archiver := &MockArchiver{}
	archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return([]string{"a", "b", "c"}, nil)
	archiver.On("DownloadURL", mock.Anything, mock.Anything).Return("https://archive.example.com/a", nil)

	o := newOrchestrator(cfg, sink, newPublisher(), WithRepository(repo), WithArchiver(archiver))
	require.NoError(t, o.Run(context.Background()))

	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "StoreResult", 6)
	archiver.AssertCalled(t, "Archive", mock.Anything, o.ID().String(), []string{
		filepath.Join(cfg.OutputDir, "MOCK_AM_MOD_Results.txt"),
		filepath.Join(cfg.OutputDir, "MOCK_FM_MOD_Results.txt"),
		filepath.Join(cfg.OutputDir, "MOCK_LEVEL_Results.txt"),
	})
	archiver.AssertNumberOfCalls(t, "DownloadURL", 3)
	assert.Empty(t, sink.warnings)
}

func TestRunRepositoryFailuresAreWarnings(t *testing.T) {
	cfg := testConfig(t)
	cfg.FrequencyPoints = cfg.FrequencyPoints[:1]
	sink := &fakeSink{}

	repo := &MockRepository{}
	repo.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	repo.On("StoreResult", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	repo.On("CompleteRun", mock.Anything, mock.Anything).Return(nil)

	archiver := &MockArchiver{}
	archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("bucket missing"))

	o := newOrchestrator(cfg, sink, newPublisher(), WithRepository(repo), WithArchiver(archiver))
	require.NoError(t, o.Run(context.Background()))

	assert.Len(t, sink.results, 3)
	assert.Empty(t, sink.errors)
	assert.Len(t, sink.warnings, 4)
	assert.Equal(t, "Failed to archive results files: bucket missing", sink.warnings[3])
}

func TestIsolateRecoversPanic(t *testing.T) {
	err := isolate(func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestAcquirePairSimulated(t *testing.T) {
	cfg := testConfig(t)
	pair, err := AcquirePair(cfg)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, instrument.AnalyzerName, pair.Analyzer.Name())
	assert.Equal(t, instrument.StimulusName, pair.Stimulus.Name())
	require.NoError(t, pair.Close())
}
