package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/franz/radio-monitor/internal/util"
)

const defaultMQTTTopic = "radio-monitor/notifications"

type MQTTConfig struct {
	Broker   string `json:"broker"`
	Port     int    `json:"port,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      *int   `json:"qos,omitempty"`
	Retain   bool   `json:"retain,omitempty"`
}

func (c *MQTTConfig) validate() error {
	if c.Broker == "" {
		return missing("broker")
	}
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.Topic == "" {
		c.Topic = defaultMQTTTopic
	}
	if c.QoS == nil {
		qos := 1
		c.QoS = &qos
	}
	if *c.QoS < 0 || *c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2: %w", util.ErrInvalidConfig)
	}
	return nil
}

// brokerURL accepts a bare host, combined with Port, or a full
// tcp://, ssl:// or ws:// URL.
func (c *MQTTConfig) brokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// MQTT publishes each event as a JSON document over a connection opened
// for that send.
type MQTT struct {
	cfg     MQTTConfig
	timeout time.Duration
	now     func() time.Time
}

func newMQTT(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg MQTTConfig
	if err := decodeConfig("mqtt", raw, &cfg); err != nil {
		return nil, err
	}
	return &MQTT{cfg: cfg, timeout: opts.Timeout, now: opts.Now}, nil
}

type mqttPayload struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Trigger   Trigger        `json:"trigger,omitempty"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *MQTT) payload(ev Event) ([]byte, error) {
	return json.Marshal(mqttPayload{
		Title:     ev.Title,
		Message:   ev.Message,
		Severity:  ev.Severity,
		Trigger:   ev.Trigger,
		Timestamp: m.now().Format(time.RFC3339),
		Metadata:  ev.Metadata,
	})
}

func (m *MQTT) Send(ctx context.Context, ev Event) error {
	data, err := m.payload(ev)
	if err != nil {
		return fmt.Errorf("failed to encode MQTT payload: %w", err)
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(m.cfg.brokerURL())
	opts.SetClientID("radio-monitor-" + uuid.NewString()[:8])
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("connection to %s timed out", m.cfg.brokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.cfg.brokerURL(), err)
	}
	defer client.Disconnect(250)

	pub := client.Publish(m.cfg.Topic, byte(*m.cfg.QoS), m.cfg.Retain, data)
	if !pub.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", m.cfg.Topic)
	}
	if err := pub.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", m.cfg.Topic, err)
	}
	return nil
}
