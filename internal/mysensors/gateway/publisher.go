package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
)

// EventTopics builds the topics discovery and state are published on.
// mqtt.Topics satisfies it.
type EventTopics interface {
	Discovery(gateway string, node, child uint8, valueType string) string
	State(gateway string, node, child uint8, valueType string) string
}

// DiscoveryMessage is the retained discovery document for one device.
type DiscoveryMessage struct {
	Gateway      string `json:"gateway_id"`
	NodeID       uint8  `json:"node_id"`
	ChildID      uint8  `json:"child_id"`
	ValueType    string `json:"value_type"`
	Domain       string `json:"domain"`
	DeviceClass  string `json:"device_class,omitempty"`
	Presentation string `json:"presentation"`
}

// EventPublisher mirrors discovery and value events to MQTT so other
// consumers on the broker can follow the registry.
type EventPublisher struct {
	publisher HealthPublisher
	topics    EventTopics
	qos       byte
	logger    Logger

	discoveries     <-chan events.Discovery
	values          <-chan events.ValueChanged
	cancelDiscovery func()
	cancelValues    func()
}

// NewEventPublisher subscribes to hub right away, so events published
// before Run starts are buffered rather than lost.
func NewEventPublisher(hub *events.Hub, publisher HealthPublisher, topics EventTopics, qos byte, logger Logger) *EventPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &EventPublisher{publisher: publisher, topics: topics, qos: qos, logger: logger}
	p.discoveries, p.cancelDiscovery = hub.Discovery.Subscribe(events.DefaultBuffer * 4)
	p.values, p.cancelValues = hub.Values.Subscribe(events.DefaultBuffer * 4)
	return p
}

// Run forwards events until ctx is cancelled or the hub closes, then drops
// the subscriptions.
func (p *EventPublisher) Run(ctx context.Context) error {
	defer p.cancelDiscovery()
	defer p.cancelValues()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.discoveries:
			if !ok {
				return nil
			}
			if err := p.publishDiscovery(ev); err != nil {
				p.logger.Warn("publishing discovery failed", "device", ev.Key.String(), "error", err)
			}
		case ev, ok := <-p.values:
			if !ok {
				return nil
			}
			if err := p.publishValue(ev); err != nil {
				p.logger.Debug("publishing state failed", "device", ev.Key.String(), "error", err)
			}
		}
	}
}

func (p *EventPublisher) publishDiscovery(ev events.Discovery) error {
	k := ev.Key
	payload, err := json.Marshal(DiscoveryMessage{
		Gateway:      string(k.Gateway),
		NodeID:       k.NodeID,
		ChildID:      k.ChildID,
		ValueType:    k.ValueType.String(),
		Domain:       string(ev.Domain),
		DeviceClass:  ev.DeviceClass,
		Presentation: ev.Presentation.String(),
	})
	if err != nil {
		return fmt.Errorf("encoding discovery: %w", err)
	}
	topic := p.topics.Discovery(string(k.Gateway), k.NodeID, k.ChildID, k.ValueType.String())
	return p.publisher.Publish(topic, payload, p.qos, true)
}

func (p *EventPublisher) publishValue(ev events.ValueChanged) error {
	k := ev.Key
	topic := p.topics.State(string(k.Gateway), k.NodeID, k.ChildID, k.ValueType.String())
	return p.publisher.Publish(topic, []byte(ev.Value), p.qos, true)
}
