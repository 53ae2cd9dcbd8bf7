package api

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
)

// WebSocket event channels.
const (
	ChannelDeviceDiscovered = "device.discovered"
	ChannelDeviceValue      = "device.value_changed"
	ChannelDeviceUncertain  = "device.delivery_uncertain"
	ChannelGatewayState     = "gateway.state_changed"
)

const relaySubscriptionBuffer = events.DefaultBuffer * 4

// Event payloads broadcast to WebSocket clients.
type (
	discoveredPayload struct {
		ID           string `json:"id"`
		Gateway      string `json:"gateway_id"`
		NodeID       uint8  `json:"node_id"`
		ChildID      uint8  `json:"child_id"`
		ValueType    string `json:"value_type"`
		Domain       string `json:"domain"`
		DeviceClass  string `json:"device_class,omitempty"`
		Presentation string `json:"presentation"`
	}

	valuePayload struct {
		ID         string    `json:"id"`
		Value      string    `json:"value"`
		Previous   string    `json:"previous"`
		Optimistic bool      `json:"optimistic,omitempty"`
		At         time.Time `json:"at"`
	}

	uncertainPayload struct {
		ID        string    `json:"id"`
		Value     string    `json:"value"`
		SentAt    time.Time `json:"sent_at"`
		TimeoutMS int64     `json:"timeout_ms"`
	}

	statePayload struct {
		Gateway string    `json:"gateway_id"`
		From    string    `json:"from"`
		To      string    `json:"to"`
		Reason  string    `json:"reason,omitempty"`
		At      time.Time `json:"at"`
	}
)

// eventRelay forwards event hub traffic to the WebSocket event stream.
type eventRelay struct {
	stream *Stream

	discoveries <-chan events.Discovery
	values      <-chan events.ValueChanged
	uncertain   <-chan events.DeliveryUncertain
	states      <-chan events.SessionState
	cancels     []func()
}

func newEventRelay(src *events.Hub, stream *Stream) *eventRelay {
	r := &eventRelay{stream: stream}
	var cancel func()
	r.discoveries, cancel = src.Discovery.Subscribe(relaySubscriptionBuffer)
	r.cancels = append(r.cancels, cancel)
	r.values, cancel = src.Values.Subscribe(relaySubscriptionBuffer)
	r.cancels = append(r.cancels, cancel)
	r.uncertain, cancel = src.Uncertain.Subscribe(relaySubscriptionBuffer)
	r.cancels = append(r.cancels, cancel)
	r.states, cancel = src.Sessions.Subscribe(relaySubscriptionBuffer)
	r.cancels = append(r.cancels, cancel)
	return r
}

// run broadcasts until ctx is cancelled or every source channel closes.
func (r *eventRelay) run(ctx context.Context) {
	discoveries, values, uncertain, states := r.discoveries, r.values, r.uncertain, r.states
	for discoveries != nil || values != nil || uncertain != nil || states != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-discoveries:
			if !ok {
				discoveries = nil
				continue
			}
			r.stream.Publish(ChannelDeviceDiscovered, discoveredPayload{
				ID:           ev.Key.String(),
				Gateway:      string(ev.Key.Gateway),
				NodeID:       ev.Key.NodeID,
				ChildID:      ev.Key.ChildID,
				ValueType:    ev.Key.ValueType.String(),
				Domain:       string(ev.Domain),
				DeviceClass:  ev.DeviceClass,
				Presentation: ev.Presentation.String(),
			})
		case ev, ok := <-values:
			if !ok {
				values = nil
				continue
			}
			r.stream.Publish(ChannelDeviceValue, valuePayload{
				ID:         ev.Key.String(),
				Value:      ev.Value,
				Previous:   ev.Previous,
				Optimistic: ev.Optimistic,
				At:         ev.At,
			})
		case ev, ok := <-uncertain:
			if !ok {
				uncertain = nil
				continue
			}
			r.stream.Publish(ChannelDeviceUncertain, uncertainPayload{
				ID:        ev.Key.String(),
				Value:     ev.Value,
				SentAt:    ev.SentAt,
				TimeoutMS: ev.Timeout.Milliseconds(),
			})
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			r.stream.Publish(ChannelGatewayState, statePayload{
				Gateway: string(ev.Gateway),
				From:    ev.From,
				To:      ev.To,
				Reason:  ev.Reason,
				At:      ev.At,
			})
		}
	}
}

func (r *eventRelay) close() {
	for _, cancel := range r.cancels {
		cancel()
	}
}
