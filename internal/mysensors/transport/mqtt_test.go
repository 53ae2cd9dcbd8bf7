package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakeMQTT struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    []published
	subscribeErr error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, string(payload), qos, retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeMQTT) deliver(t *testing.T, sub, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[sub]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", sub)
	require.NoError(t, h(topic, []byte(payload)))
}

func TestMQTTTransport_InboundFrames(t *testing.T) {
	client := newFakeMQTT()
	tr := &MQTTTransport{Client: client, InPrefix: "mygateway1-out", OutPrefix: "mygateway1-in", QoS: 1}

	conn, err := tr.Open(context.Background(), "mqtt")
	require.NoError(t, err)
	defer conn.Close()

	sub := "mygateway1-out/+/+/+/+/+"
	client.deliver(t, sub, "mygateway1-out/5/1/1/0/16", "1")
	client.deliver(t, sub, "mygateway1-out/0/255/3/0/14", "startup; done")

	f, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, "5;1;1;0;16;1", string(f))

	f, err = conn.Read()
	require.NoError(t, err)
	assert.Equal(t, "0;255;3;0;14;startup; done", string(f))
}

func TestMQTTTransport_RejectsForeignTopic(t *testing.T) {
	client := newFakeMQTT()
	tr := &MQTTTransport{Client: client, InPrefix: "gw-out", OutPrefix: "gw-in"}

	conn, err := tr.Open(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	client.mu.Lock()
	h := client.handlers["gw-out/+/+/+/+/+"]
	client.mu.Unlock()

	assert.Error(t, h("other/5/1/1/0/16", []byte("1")))
	assert.Error(t, h("gw-out/5/1/1/0", []byte("1")))
}

func TestMQTTTransport_Write(t *testing.T) {
	client := newFakeMQTT()
	tr := &MQTTTransport{Client: client, InPrefix: "gw-out", OutPrefix: "gw-in", QoS: 1, Retain: true}

	conn, err := tr.Open(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	msg := protocol.NewSet(5, 1, protocol.ValueStatus, "1", true)
	require.NoError(t, conn.Write(msg.Encode()))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.published, 1)
	assert.Equal(t, published{"gw-in/5/1/1/1/2", "1", 1, true}, client.published[0])
}

func TestMQTTTransport_WriteMalformed(t *testing.T) {
	tr := &MQTTTransport{Client: newFakeMQTT(), InPrefix: "gw-out", OutPrefix: "gw-in"}
	conn, err := tr.Open(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	assert.ErrorIs(t, conn.Write([]byte("garbage\n")), protocol.ErrMalformedFrame)
}

func TestMQTTTransport_Close(t *testing.T) {
	client := newFakeMQTT()
	tr := &MQTTTransport{Client: client, InPrefix: "gw-out", OutPrefix: "gw-in"}

	conn, err := tr.Open(context.Background(), "")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Read()
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Read not unblocked by Close")
	}

	client.mu.Lock()
	assert.Empty(t, client.handlers, "Close must unsubscribe")
	client.mu.Unlock()
	assert.ErrorIs(t, conn.Write(protocol.NewVersionRequest().Encode()), ErrClosed)
}

func TestMQTTTransport_OpenErrors(t *testing.T) {
	_, err := (&MQTTTransport{}).Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrConnect)

	client := newFakeMQTT()
	client.subscribeErr = errors.New("not connected")
	_, err = (&MQTTTransport{Client: client, InPrefix: "gw-out"}).Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "gw-out/+/+/+/+/+", InboundTopic("gw-out/"))
	assert.Equal(t, "gw-in/0/255/3/0/2", FrameTopic("gw-in", protocol.NewVersionRequest()))

	frame, ok := topicToFrame("gw-out", "gw-out/12/3/1/0/0", []byte("21.5"))
	require.True(t, ok)
	assert.Equal(t, "12;3;1;0;0;21.5", string(frame))
}
