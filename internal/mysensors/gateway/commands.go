package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
)

// SendSetValue sends a set command for key. It fails with
// ErrSessionNotReady unless the session is Ready.
//
// With ack requested, or when the session is optimistic, the registry is
// updated before the frame is written and rolled back if the write fails.
// An ack that never arrives is reported as delivery-uncertain; the value
// is kept.
func (s *Session) SendSetValue(ctx context.Context, key registry.DeviceKey, value string, ack bool) error {
	if key.Gateway != s.gw {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, key.Gateway)
	}
	if err := protocol.ValidatePayload(value); err != nil {
		return fmt.Errorf("value for %s: %w", key, err)
	}
	if _, ok := s.reg.Child(s.gw, key.NodeID, key.ChildID); !ok {
		return fmt.Errorf("%w: %s", registry.ErrChildNotFound, key)
	}

	return s.submit(ctx, command{
		msg: protocol.NewSet(key.NodeID, key.ChildID, key.ValueType, value, ack),
		key: key,
		set: true,
	})
}

// Send writes a raw message to the gateway. No registry state is touched.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	if err := protocol.ValidatePayload(msg.Payload); err != nil {
		return err
	}
	return s.submit(ctx, command{msg: msg})
}

// RemoveNode forgets a node with its children and values. The deletion
// runs on the session loop, so it fails with ErrSessionNotReady unless the
// session is Ready. Pending acks for the node are dropped and a snapshot
// is written when persistence is configured.
func (s *Session) RemoveNode(ctx context.Context, nodeID uint8) error {
	if _, ok := s.reg.Node(s.gw, nodeID); !ok {
		return fmt.Errorf("%w: %s/%d", registry.ErrNodeNotFound, s.gw, nodeID)
	}
	return s.submit(ctx, command{
		key:        registry.DeviceKey{Gateway: s.gw, NodeID: nodeID},
		removeNode: true,
	})
}

// Optimistic reports whether commands update the registry before the node
// confirms them.
func (s *Session) Optimistic() bool {
	return s.opts.Optimistic
}

// submit hands cmd to the session loop and waits for the write result.
func (s *Session) submit(ctx context.Context, cmd command) error {
	leftReady, err := s.readyGate()
	if err != nil {
		return err
	}

	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-leftReady:
		return fmt.Errorf("%w: %s disconnected", ErrSessionNotReady, s.gw)
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs on the session loop. A returned error is a write failure and
// ends the connection.
func (s *Session) execute(conn transport.Conn, cmd command) error {
	if !cmd.set {
		return s.write(conn, cmd.msg)
	}

	key := cmd.key
	value := cmd.msg.Payload

	var (
		previous registry.DeviceView
		applied  bool
	)
	if s.opts.Optimistic || cmd.msg.Ack {
		if _, ok := s.reg.Lookup(key); ok {
			prev, err := s.reg.SetOptimistic(key, value)
			if err == nil {
				previous, applied = prev, true
				s.hub.Values.Publish(events.ValueChanged{
					Key:        key,
					Value:      value,
					Previous:   prev.Value,
					Optimistic: true,
					At:         s.now(),
				})
			}
		}
	}

	if err := s.write(conn, cmd.msg); err != nil {
		if applied {
			if rerr := s.reg.Rollback(key, previous); rerr == nil {
				s.hub.Values.Publish(events.ValueChanged{
					Key:      key,
					Value:    previous.Value,
					Previous: value,
					At:       s.now(),
				})
			}
			s.logger.Warn("command failed, optimistic value rolled back", "device", key.String(), "error", err)
		}
		return err
	}

	if cmd.msg.Ack {
		s.acks.add(cmd.msg, key, s.now(), s.timeouts.Ack)
		s.stats.pendingAcks.Store(int64(s.acks.len()))
	}
	return nil
}

// expireAcks reports every pending ack past its deadline.
func (s *Session) expireAcks(now time.Time) {
	expired := s.acks.expire(now)
	s.stats.pendingAcks.Store(int64(s.acks.len()))
	for _, p := range expired {
		s.reportUncertain(p)
	}
}

// expireAll reports every pending ack when the connection ends; the echo
// can no longer arrive on it.
func (s *Session) expireAll() {
	drained := s.acks.drain()
	s.stats.pendingAcks.Store(0)
	for _, p := range drained {
		s.reportUncertain(p)
	}
}

// reportUncertain flags the device and publishes the event last, so
// subscribers see the flag and counters already updated.
func (s *Session) reportUncertain(p pendingAck) {
	// Keys without a record (V_UP, V_STOP) have nothing to flag.
	_ = s.reg.MarkUncertain(p.key)
	s.stats.ackTimeouts.Add(1)
	s.telemetry.WriteAckTimeout(string(p.key.Gateway), p.key.NodeID, p.key.ChildID,
		p.key.ValueType.String(), s.now())

	s.logger.Warn("command delivery uncertain, no ack received",
		"device", p.key.String(), "value", p.value, "timeout", s.timeouts.Ack)
	s.hub.Uncertain.Publish(events.DeliveryUncertain{
		Key:     p.key,
		Value:   p.value,
		SentAt:  p.sentAt,
		Timeout: s.timeouts.Ack,
	})
}

// removeNode runs on the session loop. A failure is reported to the caller
// and leaves the connection up.
func (s *Session) removeNode(nodeID uint8) error {
	if err := s.reg.RemoveNode(s.gw, nodeID); err != nil {
		return err
	}
	s.acks.forget(nodeID)
	s.stats.pendingAcks.Store(int64(s.acks.len()))
	s.saveSnapshot("node removed")
	return nil
}
