package discovery

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// ErrNotPresentation is returned when HandlePresentation gets another command.
var ErrNotPresentation = errors.New("discovery: not a presentation message")

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher receives discovery events. *events.Bus[events.Discovery]
// satisfies it. Publish must not block.
type Publisher interface {
	Publish(events.Discovery)
}

// Dispatcher turns presentation messages into registry entries and emits a
// Discovery event the first time each DeviceKey is seen.
//
// The registry is the only record of what has been discovered, so keys
// restored from a snapshot never produce events.
type Dispatcher struct {
	reg       *registry.Registry
	pub       Publisher
	logger    Logger
	nodeNames func(nodeID uint8) string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithNodeNames supplies configured friendly names for new nodes.
func WithNodeNames(fn func(nodeID uint8) string) Option {
	return func(d *Dispatcher) { d.nodeNames = fn }
}

// NewDispatcher creates a Dispatcher backed by reg that publishes on pub.
func NewDispatcher(reg *registry.Registry, pub Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		pub:       pub,
		logger:    noopLogger{},
		nodeNames: func(uint8) string { return "" },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandlePresentation processes one presentation message for gateway gw and
// returns the events it emitted.
//
// A node presentation (child 255, S_ARDUINO_NODE or S_ARDUINO_REPEATER_NODE)
// only updates the node; its payload is the node's library version.
func (d *Dispatcher) HandlePresentation(gw registry.GatewayID, msg protocol.Message) ([]events.Discovery, error) {
	if msg.Command != protocol.CommandPresentation {
		return nil, fmt.Errorf("%w: %s", ErrNotPresentation, msg.Command)
	}

	typ := protocol.Presentation(msg.Type)

	if msg.ChildID == protocol.NodeChildID && typ.IsNode() {
		if d.reg.UpsertNode(gw, msg.NodeID, registry.NodeMeta{
			ProtocolVersion: msg.Payload,
			Name:            d.nodeNames(msg.NodeID),
		}) {
			d.logger.Info("node discovered", "gateway_id", string(gw), "node_id", msg.NodeID, "protocol_version", msg.Payload)
		}
		return nil, nil
	}

	if d.reg.UpsertNode(gw, msg.NodeID, registry.NodeMeta{Name: d.nodeNames(msg.NodeID)}) {
		d.logger.Info("node discovered", "gateway_id", string(gw), "node_id", msg.NodeID)
	}

	capability, known := Resolve(typ)
	if !known {
		d.logger.Warn("unmapped presentation type, using generic capability",
			"gateway_id", string(gw), "node_id", msg.NodeID, "child_id", msg.ChildID, "type", typ.String())
	}

	created, err := d.reg.UpsertChild(gw, msg.NodeID, msg.ChildID, typ, msg.Payload, capability.ValueTypes)
	if err != nil {
		return nil, fmt.Errorf("registering child: %w", err)
	}
	if created {
		d.logger.Debug("child discovered", "gateway_id", string(gw), "node_id", msg.NodeID,
			"child_id", msg.ChildID, "type", typ.String())
	}

	child, ok := d.reg.Child(gw, msg.NodeID, msg.ChildID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d/%d", registry.ErrChildNotFound, gw, msg.NodeID, msg.ChildID)
	}

	var emitted []events.Discovery
	for _, vt := range child.ValueTypes {
		key := registry.DeviceKey{Gateway: gw, NodeID: msg.NodeID, ChildID: msg.ChildID, ValueType: vt}
		_, created, err := d.reg.GetOrCreate(key)
		if err != nil {
			return emitted, fmt.Errorf("creating device %s: %w", key, err)
		}
		if !created {
			continue
		}
		ev := events.Discovery{
			Key:          key,
			Domain:       capability.Domain,
			DeviceClass:  capability.DeviceClass,
			Presentation: typ,
		}
		d.pub.Publish(ev)
		emitted = append(emitted, ev)
		d.logger.Info("device discovered", "device", key.String(), "domain", string(ev.Domain), "device_class", ev.DeviceClass)
	}
	return emitted, nil
}
