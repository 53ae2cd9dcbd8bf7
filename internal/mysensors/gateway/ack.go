package gateway

import (
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// ackKey identifies the echo a node sends for an acknowledged command.
type ackKey struct {
	node    uint8
	child   uint8
	command protocol.Command
	typ     uint8
}

func ackKeyOf(m protocol.Message) ackKey {
	return ackKey{node: m.NodeID, child: m.ChildID, command: m.Command, typ: m.Type}
}

type pendingAck struct {
	key      registry.DeviceKey
	value    string
	sentAt   time.Time
	deadline time.Time
}

// ackTable tracks commands sent with the ack flag. It is owned by the session
// loop and needs no locking. A newer command for the same target replaces the
// older one.
type ackTable struct {
	entries map[ackKey]pendingAck
}

func newAckTable() *ackTable {
	return &ackTable{entries: make(map[ackKey]pendingAck)}
}

func (t *ackTable) add(m protocol.Message, key registry.DeviceKey, sentAt time.Time, timeout time.Duration) {
	t.entries[ackKeyOf(m)] = pendingAck{
		key:      key,
		value:    m.Payload,
		sentAt:   sentAt,
		deadline: sentAt.Add(timeout),
	}
}

// resolve removes the entry matching an inbound echo. It reports whether one
// was pending.
func (t *ackTable) resolve(m protocol.Message) (pendingAck, bool) {
	k := ackKeyOf(m)
	p, ok := t.entries[k]
	if ok {
		delete(t.entries, k)
	}
	return p, ok
}

// expire removes and returns every entry whose deadline is not after now.
func (t *ackTable) expire(now time.Time) []pendingAck {
	var out []pendingAck
	for k, p := range t.entries {
		if !p.deadline.After(now) {
			out = append(out, p)
			delete(t.entries, k)
		}
	}
	return out
}

// forget drops every entry for node without reporting it.
func (t *ackTable) forget(node uint8) {
	for k := range t.entries {
		if k.node == node {
			delete(t.entries, k)
		}
	}
}

// drain removes and returns everything.
func (t *ackTable) drain() []pendingAck {
	out := make([]pendingAck, 0, len(t.entries))
	for k, p := range t.entries {
		out = append(out, p)
		delete(t.entries, k)
	}
	return out
}

func (t *ackTable) len() int {
	return len(t.entries)
}
