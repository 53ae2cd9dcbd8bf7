package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

const mqttFrameBuffer = 64

// MQTTClient is the part of mqtt.Client an MQTT gateway needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTTransport speaks to a gateway that bridges the radio network to MQTT.
//
// Inbound frames arrive on <InPrefix>/<node>/<child>/<command>/<ack>/<type>
// with the payload as the message body. Outbound frames are published to the
// same layout under OutPrefix.
type MQTTTransport struct {
	Client    MQTTClient
	InPrefix  string
	OutPrefix string
	QoS       byte
	Retain    bool
}

var _ Transport = (*MQTTTransport)(nil)

// Open subscribes to the inbound prefix. address is ignored.
func (t *MQTTTransport) Open(ctx context.Context, _ string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if t.Client == nil {
		return nil, fmt.Errorf("%w: no mqtt client", ErrConnect)
	}

	c := &mqttConn{
		t:      t,
		topic:  InboundTopic(t.InPrefix),
		frames: make(chan []byte, mqttFrameBuffer),
		done:   make(chan struct{}),
	}
	if err := t.Client.Subscribe(c.topic, t.QoS, c.handle); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrConnect, c.topic, err)
	}
	return c, nil
}

// InboundTopic is the wildcard subscription for a gateway's inbound prefix.
func InboundTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/+/+/+/+/+"
}

// FrameTopic returns the topic carrying msg under prefix.
//
// Example: mygateway1-in/5/1/1/0/16
func FrameTopic(prefix string, msg protocol.Message) string {
	ack := 0
	if msg.Ack {
		ack = 1
	}
	return fmt.Sprintf("%s/%d/%d/%d/%d/%d",
		strings.TrimSuffix(prefix, "/"), msg.NodeID, msg.ChildID, msg.Command, ack, msg.Type)
}

// topicToFrame rebuilds a serial-style frame from an inbound topic and body.
// It returns false when the topic does not sit directly under prefix.
func topicToFrame(prefix, topic string, payload []byte) ([]byte, bool) {
	rest, ok := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/")
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 5 {
		return nil, false
	}
	frame := strings.Join(parts, ";") + ";" + string(payload)
	return []byte(frame), true
}

type mqttConn struct {
	t      *MQTTTransport
	topic  string
	frames chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// handle runs on the paho router goroutine. It blocks while the session is
// behind so frames keep their broker order.
func (c *mqttConn) handle(topic string, payload []byte) error {
	frame, ok := topicToFrame(c.t.InPrefix, topic, payload)
	if !ok {
		return fmt.Errorf("unexpected gateway topic %q", topic)
	}
	select {
	case c.frames <- frame:
	case <-c.done:
	}
	return nil
}

func (c *mqttConn) Read() ([]byte, error) {
	// Prefer buffered frames so nothing received before Close is lost.
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// Write decodes frame and republishes it on the outbound prefix.
func (c *mqttConn) Write(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	return c.t.Client.Publish(FrameTopic(c.t.OutPrefix, msg), []byte(msg.Payload), c.t.QoS, c.t.Retain)
}

func (c *mqttConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.t.Client.Unsubscribe(c.topic)
	})
	return c.closeErr
}
