package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/RMahshie/sigcal/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectWait = 250 // ms
)

// MQTTPublisher publishes results to an MQTT broker
type MQTTPublisher struct {
	client mqtt.Client
}

// BrokerURL builds the paho broker address for cfg
func BrokerURL(cfg config.TelemetryConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port)
}

// NewMQTTPublisher connects to the broker and starts the client's network loop
func NewMQTTPublisher(ctx context.Context, cfg config.TelemetryConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(BrokerURL(cfg)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", BrokerURL(cfg), err)
	}

	log.Info().Str("broker", BrokerURL(cfg)).Str("client_id", cfg.ClientID).Msg("MQTT connected")
	return &MQTTPublisher{client: client}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(mqttDisconnectWait)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
