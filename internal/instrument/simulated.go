package instrument

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const (
	AnalyzerName = "analyzer"
	StimulusName = "stimulus"
)

// NoError is the answer to SYST:ERR? when the error queue is empty
const NoError = "No error"

// SimOption configures a simulated gateway
type SimOption func(*simulated)

// WithSimSeed makes the SYST:ERR? faults reproducible. Each gateway derives
// its own source from the seed so they never share generator state.
func WithSimSeed(seed uint64) SimOption {
	return func(s *simulated) { s.rng = rand.New(rand.NewPCG(seed, uint64(s.name[0]))) }
}

// WithLatency delays every transaction by d
func WithLatency(d time.Duration) SimOption {
	return func(s *simulated) { s.latency = d }
}

// WithErrorRate sets the probability that SYST:ERR? reports a fault
func WithErrorRate(p float64) SimOption {
	return func(s *simulated) { s.errorRate = p }
}

// simulated is the state shared by both simulated instruments
type simulated struct {
	name      string
	fault     string
	rng       *rand.Rand
	latency   time.Duration
	errorRate float64

	mu       sync.Mutex
	closed   bool
	commands []string
}

func newSimulated(name, fault string, opts []SimOption) *simulated {
	s := &simulated{
		name:      name,
		fault:     fault,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		errorRate: 0.1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *simulated) Name() string { return s.name }

// Commands returns every command written so far, in order
func (s *simulated) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called
func (s *simulated) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enter must be called with mu held
func (s *simulated) enter(ctx context.Context, op, cmd string) error {
	if s.closed {
		return s.fail(op, cmd, errors.New("gateway closed"))
	}
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return s.fail(op, cmd, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return s.fail(op, cmd, err)
	}
	return nil
}

func (s *simulated) systErr() string {
	if s.rng.Float64() < s.errorRate {
		return s.fault
	}
	return NoError
}

func (s *simulated) fail(op, cmd string, err error) error {
	return pkgerrors.WithStack(&GatewayError{Instrument: s.name, Op: op, Command: cmd, Err: err})
}

// WriteCommand records cmd
func (s *simulated) WriteCommand(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "write", cmd); err != nil {
		return err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *simulated) QueryString(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "query", cmd); err != nil {
		return "", err
	}
	if strings.Contains(cmd, "SYST:ERR?") {
		return s.systErr(), nil
	}
	return "Mock Response", nil
}

// QueryFloat parses the QueryString answer. Simulated sweeps synthesize
// their readings in the procedure, so nothing numeric comes back here.
func (s *simulated) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := s.QueryString(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, s.fail("query", cmd, err)
	}
	return v, nil
}

// SimulatedAnalyzer stands in for the measurement receiver
type SimulatedAnalyzer struct {
	*simulated
}

func NewSimulatedAnalyzer(opts ...SimOption) *SimulatedAnalyzer {
	return &SimulatedAnalyzer{simulated: newSimulated(AnalyzerName, "Mock Error: Temperature warning", opts)}
}

// SimulatedStimulus stands in for the signal generator under calibration
type SimulatedStimulus struct {
	*simulated
	frequency string
	power     string
}

// NewSimulatedStimulus returns a generator that records what it is driven to
func NewSimulatedStimulus(opts ...SimOption) *SimulatedStimulus {
	return &SimulatedStimulus{simulated: newSimulated(StimulusName, "Mock Error: PLL unlocked", opts)}
}

func (s *SimulatedStimulus) WriteCommand(ctx context.Context, cmd string) error {
	if err := s.simulated.WriteCommand(ctx, cmd); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(cmd, "FREQ:CW"):
		s.frequency = lastField(cmd)
	case strings.Contains(cmd, "POW:LEV:IMM:AMPL"):
		s.power = lastField(cmd)
	}
	return nil
}

// Output returns the frequency and power the generator was last set to
func (s *SimulatedStimulus) Output() (frequency, power string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frequency, s.power
}

// NewSimulatedPair returns a simulated analyzer and stimulus
func NewSimulatedPair(opts ...SimOption) *Pair {
	return NewPair(NewSimulatedAnalyzer(opts...), NewSimulatedStimulus(opts...))
}

// ParseHz parses a frequency such as "100MHz", "20KHZ", "1.5e9" or "300 HZ"
func ParseHz(s string) (float64, bool) {
	u := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	mult := 1.0
	switch {
	case strings.HasSuffix(u, "GHZ"):
		mult, u = 1e9, strings.TrimSuffix(u, "GHZ")
	case strings.HasSuffix(u, "MHZ"):
		mult, u = 1e6, strings.TrimSuffix(u, "MHZ")
	case strings.HasSuffix(u, "KHZ"):
		mult, u = 1e3, strings.TrimSuffix(u, "KHZ")
	case strings.HasSuffix(u, "HZ"):
		u = strings.TrimSuffix(u, "HZ")
	}
	v, err := strconv.ParseFloat(u, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

func lastField(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
