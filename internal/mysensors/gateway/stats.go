package gateway

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

type counters struct {
	framesRx        atomic.Uint64
	framesTx        atomic.Uint64
	decodeErrors    atomic.Uint64
	ackTimeouts     atomic.Uint64
	reconnects      atomic.Uint64
	connectFailures atomic.Uint64
	pendingAcks     atomic.Int64
	lastActivity    atomic.Int64
}

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	Gateway         registry.GatewayID `json:"gateway_id"`
	State           State              `json:"state"`
	Connected       bool               `json:"connected"`
	GatewayVersion  string             `json:"gateway_version,omitempty"`
	FramesRx        uint64             `json:"frames_rx"`
	FramesTx        uint64             `json:"frames_tx"`
	DecodeErrors    uint64             `json:"decode_errors"`
	AckTimeouts     uint64             `json:"ack_timeouts"`
	Reconnects      uint64             `json:"reconnects"`
	ConnectFailures uint64             `json:"connect_failures"`
	PendingAcks     int64              `json:"pending_acks"`
	LastActivity    time.Time          `json:"last_activity,omitzero"`
}

// Stats returns the session's current counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	state := s.state
	version := s.gatewayVersion
	s.mu.Unlock()

	st := Stats{
		Gateway:         s.gw,
		State:           state,
		Connected:       state == StateHandshaking || state == StateReady,
		GatewayVersion:  version,
		FramesRx:        s.stats.framesRx.Load(),
		FramesTx:        s.stats.framesTx.Load(),
		DecodeErrors:    s.stats.decodeErrors.Load(),
		AckTimeouts:     s.stats.ackTimeouts.Load(),
		Reconnects:      s.stats.reconnects.Load(),
		ConnectFailures: s.stats.connectFailures.Load(),
		PendingAcks:     s.stats.pendingAcks.Load(),
	}
	if ns := s.stats.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}
	return st
}
