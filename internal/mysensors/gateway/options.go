package gateway

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/persistence"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
)

// Timeouts are a session's timers. Zero values take the defaults below.
type Timeouts struct {
	Connect          time.Duration
	Ack              time.Duration
	HeartbeatSilence time.Duration
	Handshake        time.Duration
	SaveInterval     time.Duration
}

// Default session timers.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultAckTimeout       = 5 * time.Second
	DefaultHeartbeatSilence = 10 * time.Minute
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultSaveInterval     = time.Minute
)

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.Ack <= 0 {
		t.Ack = DefaultAckTimeout
	}
	if t.HeartbeatSilence <= 0 {
		t.HeartbeatSilence = DefaultHeartbeatSilence
	}
	if t.Handshake <= 0 {
		t.Handshake = DefaultHandshakeTimeout
	}
	if t.SaveInterval <= 0 {
		t.SaveInterval = DefaultSaveInterval
	}
	return t
}

// ReconnectPolicy configures the exponential backoff between attempts.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries bounds consecutive failures. Zero retries forever.
	MaxRetries int
}

// SessionOptions wires a Session to its collaborators.
type SessionOptions struct {
	Gateway   registry.GatewayID
	Address   string
	Transport transport.Transport

	Registry *registry.Registry
	Events   *events.Hub

	// Store is nil when persistence is disabled for the gateway.
	Store     persistence.Store
	Telemetry Telemetry
	Logger    Logger

	// Optimistic applies every command to the registry before it is sent.
	Optimistic bool

	// SkipHandshakeWait marks the session ready right after the version
	// request. MQTT gateways never announce I_GATEWAY_READY.
	SkipHandshakeWait bool

	// NodeNames returns the configured friendly name for a node.
	NodeNames func(nodeID uint8) string

	// OnRestore is called once with the keys replayed from the snapshot.
	OnRestore func(keys []registry.DeviceKey)

	Timeouts  Timeouts
	Reconnect ReconnectPolicy

	// Now is the clock used for I_TIME replies and event timestamps.
	Now func() time.Time
}

// NewTransport builds the transport for a configured gateway. mqttClient is
// only used by MQTT gateways and may be nil otherwise.
func NewTransport(g config.GatewayConfig, mqttClient transport.MQTTClient, qos byte) (transport.Transport, error) {
	switch g.Type {
	case config.GatewayTypeSerial:
		return &transport.SerialTransport{BaudRate: g.BaudRate}, nil
	case config.GatewayTypeTCP:
		return &transport.TCPTransport{DialTimeout: g.Timeouts.Connect}, nil
	case config.GatewayTypeMQTT:
		if mqttClient == nil {
			return nil, fmt.Errorf("gateway %s: mqtt transport needs a broker connection", g.ID)
		}
		return &transport.MQTTTransport{
			Client:    mqttClient,
			InPrefix:  g.TopicInPrefix,
			OutPrefix: g.TopicOutPrefix,
			QoS:       qos,
			Retain:    g.Retain,
		}, nil
	default:
		return nil, fmt.Errorf("gateway %s: unknown type %q", g.ID, g.Type)
	}
}

// OptionsFromConfig fills the gateway-specific part of SessionOptions.
// Registry, Events, Store, Telemetry, Logger and OnRestore are left for the
// caller.
func OptionsFromConfig(g config.GatewayConfig, tr transport.Transport, saveInterval time.Duration) SessionOptions {
	return SessionOptions{
		Gateway:           registry.GatewayID(g.ID),
		Address:           g.Address(),
		Transport:         tr,
		Optimistic:        g.Optimistic,
		SkipHandshakeWait: g.Type == config.GatewayTypeMQTT,
		NodeNames: func(id uint8) string {
			return g.NodeName(int(id))
		},
		Timeouts: Timeouts{
			Connect:          g.Timeouts.Connect,
			Ack:              g.Timeouts.Ack,
			HeartbeatSilence: g.Timeouts.HeartbeatSilence,
			Handshake:        g.Timeouts.Handshake,
			SaveInterval:     saveInterval,
		},
		Reconnect: ReconnectPolicy{
			InitialDelay: g.Reconnect.InitialDelay,
			MaxDelay:     g.Reconnect.MaxDelay,
			MaxRetries:   g.Reconnect.MaxRetries,
		},
	}
}
