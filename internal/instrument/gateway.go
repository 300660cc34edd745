// Package instrument provides the command/query gateways used to drive the
// reference analyzer and the signal generator under calibration.
package instrument

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Gateway is a serialized SCPI command/query channel to one instrument.
// Implementations must be safe for concurrent use; each call is one atomic
// transaction with the instrument.
type Gateway interface {
	WriteCommand(ctx context.Context, cmd string) error
	QueryString(ctx context.Context, cmd string) (string, error)
	QueryFloat(ctx context.Context, cmd string) (float64, error)
	Close() error
	Name() string
}

// GatewayError is returned when a transaction with an instrument fails
type GatewayError struct {
	Instrument string
	Op         string
	Command    string
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Instrument, e.Op, e.Command, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Pair is the analyzer and stimulus acquired for one run
type Pair struct {
	Analyzer Gateway
	Stimulus Gateway

	closeOnce sync.Once
	closeErr  error
}

// NewPair bundles two gateways into a Pair
func NewPair(analyzer, stimulus Gateway) *Pair {
	return &Pair{Analyzer: analyzer, Stimulus: stimulus}
}

// Close releases both instruments. Only the first call reaches the
// gateways; later calls return the same result.
func (p *Pair) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = multierr.Combine(p.Analyzer.Close(), p.Stimulus.Close())
	})
	return p.closeErr
}

// Reset sends *RST to the analyzer and then to the stimulus
func Reset(ctx context.Context, p *Pair) error {
	if err := p.Analyzer.WriteCommand(ctx, "*RST"); err != nil {
		return err
	}
	return p.Stimulus.WriteCommand(ctx, "*RST")
}

// ForEach runs fn for both gateways, analyzer first
func (p *Pair) ForEach(fn func(Gateway)) {
	fn(p.Analyzer)
	fn(p.Stimulus)
}
