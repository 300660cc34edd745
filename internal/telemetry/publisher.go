// Package telemetry streams recorded results to a message broker.
package telemetry

import (
	"context"
	"fmt"

	"github.com/RMahshie/sigcal/internal/config"
)

// QoSAtLeastOnce is the delivery level results are published with
const QoSAtLeastOnce byte = 1

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Close() error
}

// PublishError is returned when a broker rejects or loses a message
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Noop discards everything. It stands in when no broker is configured or
// the broker could not be reached.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte, byte) error { return nil }
func (Noop) Close() error { return nil }

// Connect returns a publisher for the configured transport
func Connect(ctx context.Context, cfg config.TelemetryConfig) (Publisher, error) {
	switch cfg.Transport {
	case "mqtt":
		p, err := NewMQTTPublisher(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		return NewKafkaPublisher(cfg), nil
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported telemetry transport %q", cfg.Transport)
	}
}
