package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

func TestEventPublisher(t *testing.T) {
	hub := events.NewHub()
	pub := &mockPublisher{connected: true}
	p := NewEventPublisher(hub, pub, mqtt.NewTopics("mysensors"), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool {
		return hub.Discovery.Subscribers() == 1 && hub.Values.Subscribers() == 1
	}, waitFor, tick)

	hub.Discovery.Publish(events.Discovery{
		Key:          doorKey,
		Domain:       events.DomainBinarySensor,
		DeviceClass:  "door",
		Presentation: protocol.PresentationDoor,
	})
	require.Eventually(t, func() bool { return len(pub.getMessages()) == 1 }, waitFor, tick)
	hub.Values.Publish(events.ValueChanged{Key: doorKey, Value: "1", At: time.Now()})

	require.Eventually(t, func() bool { return len(pub.getMessages()) == 2 }, waitFor, tick)
	msgs := pub.getMessages()

	assert.Equal(t, "mysensors/discovery/gw1/5/1/V_TRIPPED", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	var disc DiscoveryMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &disc))
	assert.Equal(t, DiscoveryMessage{
		Gateway:      "gw1",
		NodeID:       5,
		ChildID:      1,
		ValueType:    "V_TRIPPED",
		Domain:       "binary_sensor",
		DeviceClass:  "door",
		Presentation: "S_DOOR",
	}, disc)

	assert.Equal(t, "mysensors/state/gw1/5/1/V_TRIPPED", msgs[1].topic)
	assert.Equal(t, "1", string(msgs[1].payload))

	cancel()
	assert.NoError(t, <-done)
}

func TestEventPublisher_StopsWhenHubCloses(t *testing.T) {
	hub := events.NewHub()
	p := NewEventPublisher(hub, &mockPublisher{}, mqtt.NewTopics(""), 0, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, func() bool { return hub.Discovery.Subscribers() == 1 }, waitFor, tick)

	hub.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("publisher kept running after hub closed")
	}
}
