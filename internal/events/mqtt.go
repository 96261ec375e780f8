package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// Publisher is the part of a paho client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// TaskMessage is the retained payload published for a live task.
type TaskMessage struct {
	Kind string       `json:"kind"`
	At   time.Time    `json:"at"`
	Task *models.Task `json:"task"`
}

// MQTTSink publishes task state to an MQTT broker.
type MQTTSink struct {
	client Publisher
	prefix string
	qos    byte
	logger *log.Logger

	clientID string
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(client Publisher, prefix string, qos byte, logger *log.Logger) *MQTTSink {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	if prefix == "" {
		prefix = "pkgsend"
	}
	return &MQTTSink{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		logger: logger.With("component", "mqtt"),
	}
}

// ConnectMQTT connects to the broker in cfg and announces the sink as online.
func ConnectMQTT(cfg shared.MQTTConfig, logger *log.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: mqtt.broker is empty", shared.ErrInvalidConfig)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: mqtt.qos %d", shared.ErrInvalidConfig, cfg.QoS)
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "pkgsend"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(statusTopic(prefix), string(statusPayload("offline", cfg.ClientID)), 1, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: mqtt connect timed out after %v", shared.ErrServiceUnavailable, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect: %w", shared.ErrServiceUnavailable, err)
	}

	sink := NewMQTTSink(client, prefix, byte(cfg.QoS), logger)
	sink.clientID = cfg.ClientID
	if err := sink.publish(statusTopic(prefix), true, statusPayload("online", cfg.ClientID)); err != nil {
		sink.logger.Warn("failed to publish online status", "error", err)
	}
	sink.logger.Info("connected to broker", "broker", cfg.Broker, "prefix", prefix)
	return sink, nil
}

// Handle publishes the task's state, or clears its topic when the task left the table.
func (s *MQTTSink) Handle(u tasks.Update) {
	if u.Task == nil {
		return
	}
	topic := s.TaskTopic(u.Task.Name)

	var payload []byte
	if !u.Kind.Terminal() {
		data, err := json.Marshal(TaskMessage{Kind: u.Kind.String(), At: u.At.UTC(), Task: u.Task})
		if err != nil {
			s.logger.Error("failed to encode task", "name", u.Task.Name, "error", err)
			return
		}
		payload = data
	}

	if err := s.publish(topic, true, payload); err != nil {
		s.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// TaskTopic returns <prefix>/tasks/<name> with MQTT wildcard and separator characters replaced.
func (s *MQTTSink) TaskTopic(name string) string {
	return s.prefix + "/tasks/" + topicSegment(name)
}

// Close publishes the offline status and disconnects.
func (s *MQTTSink) Close() error {
	err := s.publish(statusTopic(s.prefix), true, statusPayload("offline", s.clientID))
	s.client.Disconnect(defaultDisconnectQuiesce)
	return err
}

func (s *MQTTSink) publish(topic string, retained bool, payload []byte) error {
	token := s.client.Publish(topic, s.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: publish to %s", shared.ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func topicSegment(name string) string {
	if name == "" {
		return "_"
	}
	return topicReplacer.Replace(name)
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func statusPayload(status, clientID string) []byte {
	data, _ := json.Marshal(map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
