package bus

import (
	"encoding/json"
	"fmt"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Logger is the minimal logging surface the publisher needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// sink abstracts the MQTT client so the publisher can be tested without a
// broker. *Client satisfies it.
type sink interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// Publisher serializes engine outputs onto the bus topics.
//
// Hub snapshots go out retained so late subscribers see current state;
// notifications and change sets are fire-and-forget.
type Publisher struct {
	sink   sink
	qos    byte
	logger Logger
}

// NewPublisher creates a Publisher over the given client.
//
// Parameters:
//   - client: Connected bus client (or any compatible sink)
//   - qos: QoS level for non-retained publishes
//   - logger: Optional logger; nil disables logging
func NewPublisher(client sink, qos byte, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{sink: client, qos: qos, logger: logger}
}

// PublishHubState publishes a hub snapshot to its retained state topic.
func (p *Publisher) PublishHubState(state *ajax.HubState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("%w: snapshot missing hub id", ErrPublishFailed)
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot for hub %s: %w", ErrPublishFailed, state.ID, err)
	}

	topic := Topics{}.HubState(state.ID)
	if err := p.sink.PublishRetained(topic, payload); err != nil {
		return err
	}

	p.logger.Debug("published hub snapshot",
		"hub_id", state.ID,
		"devices", len(state.Devices),
	)
	return nil
}

// PublishNotification publishes a security notification to the hub's event topic.
func (p *Publisher) PublishNotification(n *ajax.NotificationEvent) error {
	if n == nil || n.HubID == "" {
		return fmt.Errorf("%w: notification missing hub id", ErrPublishFailed)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encoding notification %s: %w", ErrPublishFailed, n.ID, err)
	}

	topic := Topics{}.Event(n.HubID)
	if err := p.sink.Publish(topic, payload, p.qos, false); err != nil {
		return err
	}

	p.logger.Debug("published notification",
		"hub_id", n.HubID,
		"tag", n.Tag,
		"severity", n.Severity,
	)
	return nil
}

// PublishChangeSet announces a debounced change cycle on the changes topic.
func (p *Publisher) PublishChangeSet(cs ajax.ChangeSet) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("%w: encoding change set: %w", ErrPublishFailed, err)
	}

	return p.sink.Publish(Topics{}.Changes(), payload, p.qos, false)
}
