package calibration

import (
	"context"
	"fmt"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/pkg/models"
	"go.uber.org/multierr"
)

// AcquirePair returns the instrument source for cfg: simulated gateways in
// simulated mode, GPIB controllers otherwise.
func AcquirePair(cfg *config.Config) AcquireFunc {
	return func(ctx context.Context) (*instrument.Pair, error) {
		if cfg.Mode == models.ModeSimulated {
			return instrument.NewSimulatedPair(), nil
		}

		analyzer, err := instrument.Dial(ctx, instrument.AnalyzerName, cfg.Instruments.Analyzer.Endpoint())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to analyzer: %w", err)
		}
		stimulus, err := instrument.Dial(ctx, instrument.StimulusName, cfg.Instruments.Stimulus.Endpoint())
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to connect to stimulus: %w", err), analyzer.Close())
		}
		return instrument.NewPair(analyzer, stimulus), nil
	}
}
