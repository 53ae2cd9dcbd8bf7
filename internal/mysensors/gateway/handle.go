package gateway

import (
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
)

// configMetric is the I_CONFIG answer: metric units.
const configMetric = "M"

// handleFrame decodes and routes one inbound frame. Undecodable frames are
// dropped. A returned error is a write failure.
func (s *Session) handleFrame(conn transport.Conn, frame []byte) error {
	now := s.now()
	s.stats.framesRx.Add(1)
	s.stats.lastActivity.Store(now.UnixNano())

	msg, err := protocol.Decode(frame)
	if err != nil {
		s.stats.decodeErrors.Add(1)
		s.logger.Warn("dropping frame", "gateway_id", string(s.gw), "frame", string(frame), "error", err)
		return nil
	}
	s.logger.Debug("frame received", "gateway_id", string(s.gw), "frame", msg.String())

	// Unknown nodes are fine here; they appear once they present.
	_ = s.reg.TouchNode(s.gw, msg.NodeID)

	switch msg.Command {
	case protocol.CommandPresentation:
		s.handlePresentation(msg)
		return nil
	case protocol.CommandSet:
		return s.handleSet(conn, msg, now)
	case protocol.CommandReq:
		return s.handleReq(conn, msg)
	case protocol.CommandInternal:
		return s.handleInternal(conn, msg, now)
	default:
		s.logger.Debug("stream message ignored", "gateway_id", string(s.gw),
			"node_id", msg.NodeID, "type", msg.Type)
		return nil
	}
}

func (s *Session) handlePresentation(msg protocol.Message) {
	if _, err := s.dispatcher.HandlePresentation(s.gw, msg); err != nil {
		s.logger.Warn("presentation rejected", "gateway_id", string(s.gw),
			"node_id", msg.NodeID, "child_id", msg.ChildID, "error", err)
	}
}

func (s *Session) handleSet(conn transport.Conn, msg protocol.Message, now time.Time) error {
	key := registry.DeviceKey{
		Gateway:   s.gw,
		NodeID:    msg.NodeID,
		ChildID:   msg.ChildID,
		ValueType: protocol.SetReq(msg.Type),
	}

	echoed := false
	if msg.Ack {
		if p, ok := s.acks.resolve(msg); ok {
			echoed = true
			s.stats.pendingAcks.Store(int64(s.acks.len()))
			s.logger.Debug("command acknowledged", "device", key.String(), "latency", now.Sub(p.sentAt))
		}
	}

	rec, created, err := s.reg.GetOrCreate(key)
	if err != nil {
		// The node or child never presented on this gateway.
		if werr := s.requestPresentation(conn, msg.NodeID); werr != nil {
			return werr
		}
	} else {
		if created && !rec.Declared() {
			s.logger.Debug("value for undeclared type", "device", key.String())
		}
		s.storeValue(key, msg.Payload, now)
	}

	if msg.Ack && !echoed {
		return s.write(conn, msg.AckEcho())
	}
	return nil
}

func (s *Session) storeValue(key registry.DeviceKey, value string, now time.Time) {
	previous, err := s.reg.UpdateValue(key, value)
	if err != nil {
		s.logger.Warn("storing value failed", "device", key.String(), "error", err)
		return
	}
	s.hub.Values.Publish(events.ValueChanged{
		Key:      key,
		Value:    value,
		Previous: previous,
		At:       now,
	})
	s.telemetry.WriteValue(string(key.Gateway), key.NodeID, key.ChildID, key.ValueType.String(), value, now)
}

// requestPresentation asks a node to present itself, at most once per node
// per connection.
func (s *Session) requestPresentation(conn transport.Conn, nodeID uint8) error {
	if s.requested[nodeID] {
		return nil
	}
	s.requested[nodeID] = true
	s.logger.Info("value from unknown child, requesting presentation", "gateway_id", string(s.gw), "node_id", nodeID)
	return s.write(conn, protocol.NewPresentationRequest(nodeID))
}

func (s *Session) handleReq(conn transport.Conn, msg protocol.Message) error {
	key := registry.DeviceKey{
		Gateway:   s.gw,
		NodeID:    msg.NodeID,
		ChildID:   msg.ChildID,
		ValueType: protocol.SetReq(msg.Type),
	}
	rec, ok := s.reg.Lookup(key)
	if !ok {
		s.logger.Debug("request for unknown device", "device", key.String())
		return nil
	}
	value, has := rec.Value()
	if !has {
		return nil
	}
	return s.write(conn, protocol.NewSet(msg.NodeID, msg.ChildID, key.ValueType, value, false))
}

func (s *Session) handleInternal(conn transport.Conn, msg protocol.Message, now time.Time) error {
	typ := protocol.InternalType(msg.Type)

	switch typ {
	case protocol.InternalGatewayReady:
		s.logger.Info("gateway ready", "gateway_id", string(s.gw), "message", msg.Payload)
		if s.State() == StateHandshaking {
			s.setState(StateReady, "gateway ready")
		}

	case protocol.InternalVersion:
		if msg.NodeID != protocol.GatewayNodeID {
			return nil
		}
		s.setGatewayVersion(msg.Payload)
		if s.State() == StateHandshaking {
			s.logger.Info("gateway version", "gateway_id", string(s.gw), "version", msg.Payload)
			s.setState(StateReady, "version received")
		}

	case protocol.InternalTime:
		return s.write(conn, msg.Reply(msg.Type, strconv.FormatInt(now.Unix(), 10)))

	case protocol.InternalIDRequest:
		id, err := s.reg.NextNodeID(s.gw)
		if err != nil {
			s.logger.Warn("cannot assign node id", "gateway_id", string(s.gw), "error", err)
			return nil
		}
		s.logger.Info("assigned node id", "gateway_id", string(s.gw), "node_id", id)
		return s.write(conn, msg.Reply(uint8(protocol.InternalIDResponse), strconv.Itoa(int(id))))

	case protocol.InternalConfig:
		return s.write(conn, msg.Reply(msg.Type, configMetric))

	case protocol.InternalSketchName:
		s.reg.UpsertNode(s.gw, msg.NodeID, registry.NodeMeta{SketchName: msg.Payload, Name: s.nodeName(msg.NodeID)})

	case protocol.InternalSketchVersion:
		s.reg.UpsertNode(s.gw, msg.NodeID, registry.NodeMeta{SketchVersion: msg.Payload, Name: s.nodeName(msg.NodeID)})

	case protocol.InternalBatteryLevel:
		level, err := strconv.Atoi(msg.Payload)
		if err != nil || level < 0 || level > 100 {
			s.logger.Warn("invalid battery level", "gateway_id", string(s.gw), "node_id", msg.NodeID, "payload", msg.Payload)
			return nil
		}
		s.reg.UpsertNode(s.gw, msg.NodeID, registry.NodeMeta{Name: s.nodeName(msg.NodeID)})
		_ = s.reg.SetBatteryLevel(s.gw, msg.NodeID, level)

	case protocol.InternalHeartbeatResponse, protocol.InternalPong:
		// Liveness only; the frame already reset the silence timer.

	case protocol.InternalLogMessage:
		s.logger.Debug("gateway log", "gateway_id", string(s.gw), "node_id", msg.NodeID, "message", msg.Payload)

	default:
		s.logger.Debug("internal message ignored", "gateway_id", string(s.gw),
			"node_id", msg.NodeID, "type", typ.String())
	}
	return nil
}
