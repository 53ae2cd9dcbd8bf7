package events

import (
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Domain is the capability domain an entity layer instantiates for a key.
type Domain string

const (
	DomainBinarySensor Domain = "binary_sensor"
	DomainCover        Domain = "cover"
	DomainSensor       Domain = "sensor"
	DomainSwitch       Domain = "switch"
	DomainLight        Domain = "light"
	DomainGeneric      Domain = "generic"
)

// Discovery announces a DeviceKey seen for the first time.
type Discovery struct {
	Key          registry.DeviceKey
	Domain       Domain
	DeviceClass  string
	Presentation protocol.Presentation
}

// ValueChanged reports a value stored in the registry.
type ValueChanged struct {
	Key      registry.DeviceKey
	Value    string
	Previous string
	// Optimistic is set when the value was written locally ahead of the device.
	Optimistic bool
	At         time.Time
}

// DeliveryUncertain reports a command whose acknowledgement never arrived.
// The optimistic value is kept.
type DeliveryUncertain struct {
	Key     registry.DeviceKey
	Value   string
	SentAt  time.Time
	Timeout time.Duration
}

// SessionState reports a gateway session state transition.
type SessionState struct {
	Gateway registry.GatewayID
	From    string
	To      string
	Reason  string
	At      time.Time
}

// Hub bundles the buses a session publishes on. Consumers subscribe to the
// buses they care about.
type Hub struct {
	Discovery *Bus[Discovery]
	Values    *Bus[ValueChanged]
	Uncertain *Bus[DeliveryUncertain]
	Sessions  *Bus[SessionState]
}

// NewHub creates a Hub with empty buses. Discovery, delivery and session
// events are lossless; value changes may be dropped for a full subscriber,
// since the registry always holds the latest value.
func NewHub() *Hub {
	return &Hub{
		Discovery: NewLosslessBus[Discovery](),
		Values:    NewBus[ValueChanged](),
		Uncertain: NewLosslessBus[DeliveryUncertain](),
		Sessions:  NewLosslessBus[SessionState](),
	}
}

// Close closes every bus.
func (h *Hub) Close() {
	h.Discovery.Close()
	h.Values.Close()
	h.Uncertain.Close()
	h.Sessions.Close()
}
