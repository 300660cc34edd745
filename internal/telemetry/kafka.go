package telemetry

import (
	"context"
	"strings"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher publishes results to Kafka topics. MQTT style topic paths
// are mapped to dotted Kafka names, so calibration/level_measurement becomes
// calibration.level_measurement.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher writing to cfg.KafkaBrokers.
// Connections are made lazily on first write.
func NewKafkaPublisher(cfg config.TelemetryConfig) *KafkaPublisher {
	log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("Kafka publisher configured")
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// KafkaTopic maps a topic path to a Kafka topic name
func KafkaTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	// kafka has no per-message QoS; RequireOne acks match at-least-once
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: KafkaTopic(topic),
		Value: payload,
	})
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
