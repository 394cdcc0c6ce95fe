package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

const mqttPublishTimeout = 5 * time.Second

// MQTT publishes each reading as JSON to <topic>/<device_name>.
type MQTT struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// NewMQTT connects to the broker.
func NewMQTT(broker, topic string, logger *slog.Logger) (*MQTT, error) {
	clientID := fmt.Sprintf("thermo-watcher-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttPublishTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}
	logger.Info("connected to MQTT broker", "broker", broker, "client_id", clientID)

	return &MQTT{client: client, topic: strings.TrimRight(topic, "/"), logger: logger}, nil
}

// Topic returns the topic a reading is published to.
func (m *MQTT) Topic(r models.Reading) string {
	return m.topic + "/" + topicSegment(r.DeviceName)
}

// Publish sends readings at QoS 0.
func (m *MQTT) Publish(ctx context.Context, readings []models.Reading) error {
	var errs []error
	for _, r := range readings {
		payload, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode reading: %w", err))
			continue
		}

		token := m.client.Publish(m.Topic(r), 0, false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(mqttPublishTimeout):
			errs = append(errs, fmt.Errorf("publish %s: timeout", m.Topic(r)))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", m.Topic(r), err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

// topicSegment replaces characters that are topic separators or wildcards.
func topicSegment(name string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(name)
}
