package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Commander sends values to devices. *gateway.Manager satisfies it.
type Commander interface {
	SendSetValue(ctx context.Context, key registry.DeviceKey, value string, ack bool) error
	// Optimistic reports whether gw's commands are assumed to succeed
	// before the device confirms them.
	Optimistic(gw registry.GatewayID) bool
}

// Logger defines the logging interface used by the Manager.
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

// Entity is one instantiated device.
type Entity interface {
	Key() registry.DeviceKey
	Name() string
	Domain() events.Domain
	DeviceClass() string
	// State is the domain-specific state string, "unknown" before the
	// device first reports.
	State() string
	Record() *registry.DeviceRecord
}

// StateUnknown is reported until a device sends a value.
const StateUnknown = "unknown"

// View is the serialisable form of an entity.
type View struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Domain      events.Domain `json:"domain"`
	DeviceClass string        `json:"device_class,omitempty"`
	State       string        `json:"state"`
	Value       string        `json:"value"`
	Declared    bool          `json:"declared"`
	Uncertain   bool          `json:"uncertain"`
	Updated     time.Time     `json:"updated,omitzero"`
	Gateway     string        `json:"gateway_id"`
	NodeID      uint8         `json:"node_id"`
	ChildID     uint8         `json:"child_id"`
	ValueType   string        `json:"value_type"`
}

// ViewOf captures e's current state.
func ViewOf(e Entity) View {
	k := e.Key()
	rv := e.Record().View()
	return View{
		ID:          k.String(),
		Name:        e.Name(),
		Domain:      e.Domain(),
		DeviceClass: e.DeviceClass(),
		State:       e.State(),
		Value:       rv.Value,
		Declared:    rv.Declared,
		Uncertain:   rv.Uncertain,
		Updated:     rv.Updated,
		Gateway:     string(k.Gateway),
		NodeID:      k.NodeID,
		ChildID:     k.ChildID,
		ValueType:   k.ValueType.String(),
	}
}

// base carries what every entity shares.
type base struct {
	key         registry.DeviceKey
	rec         *registry.DeviceRecord
	reg         *registry.Registry
	domain      events.Domain
	deviceClass string
}

func (b *base) Key() registry.DeviceKey        { return b.key }
func (b *base) Domain() events.Domain          { return b.domain }
func (b *base) DeviceClass() string            { return b.deviceClass }
func (b *base) Record() *registry.DeviceRecord { return b.rec }

// Name is "<node name> <child id>", where the node name is the configured
// name or "<sketch name> <node id>". It follows later sketch-name updates.
func (b *base) Name() string {
	n, ok := b.reg.Node(b.key.Gateway, b.key.NodeID)
	if !ok {
		return fmt.Sprintf("%d %d", b.key.NodeID, b.key.ChildID)
	}
	return fmt.Sprintf("%s %d", n.DisplayName(), b.key.ChildID)
}
