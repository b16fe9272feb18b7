package flags

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttTimeout = 5 * time.Second

// MQTTConfig configures the MQTT flag publisher.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTPublisher mirrors flags as retained messages: "1" on
// <prefix>/<name> when set and "0" when cleared.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the initial connection succeeds.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	logger = logger.Named("mqtt")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connecting to %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger) *MQTTPublisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "obumon"
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: cfg.QoS, logger: logger}
}

// Topic returns the topic a flag is published on.
func (p *MQTTPublisher) Topic(name string) string {
	return p.prefix + "/" + strings.TrimSuffix(name, ".flag")
}

// Set publishes "1" for name.
func (p *MQTTPublisher) Set(name string) error {
	return p.publish(name, "1")
}

// Clear publishes "0" for name.
func (p *MQTTPublisher) Clear(name string) error {
	return p.publish(name, "0")
}

func (p *MQTTPublisher) publish(name, payload string) error {
	topic := p.Topic(name)
	tok := p.client.Publish(topic, p.qos, true, payload)
	if !tok.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("publishing %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	p.logger.Debug("Flag published", zap.String("topic", topic), zap.String("value", payload))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
