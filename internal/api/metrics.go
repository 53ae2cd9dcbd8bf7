package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Gateways      GatewayMetrics   `json:"gateways"`
	Entities      map[string]int   `json:"entities,omitempty"`
	Events        map[string]Queue `json:"events,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains event stream statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	Sequence         uint64 `json:"sequence"`
	Dropped          uint64 `json:"dropped"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// GatewayMetrics sums the session counters of every gateway.
type GatewayMetrics struct {
	Total        int            `json:"total"`
	ByState      map[string]int `json:"by_state"`
	FramesRx     uint64         `json:"frames_rx"`
	FramesTx     uint64         `json:"frames_tx"`
	DecodeErrors uint64         `json:"decode_errors"`
	AckTimeouts  uint64         `json:"ack_timeouts"`
	Reconnects   uint64         `json:"reconnects"`
	Nodes        int            `json:"nodes"`
	Devices      int            `json:"devices"`
}

// Queue is the delivery counters of one event bus.
type Queue struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.stream.ClientCount(),
			Sequence:         s.stream.Sequence(),
			Dropped:          s.stream.Dropped(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}

	gm := GatewayMetrics{ByState: make(map[string]int)}
	for _, sess := range s.gateways.Sessions() {
		st := sess.Stats()
		gm.Total++
		gm.ByState[st.State.String()]++
		gm.FramesRx += st.FramesRx
		gm.FramesTx += st.FramesTx
		gm.DecodeErrors += st.DecodeErrors
		gm.AckTimeouts += st.AckTimeouts
		gm.Reconnects += st.Reconnects
		gm.Nodes += len(s.registry.Nodes(sess.Gateway()))
		gm.Devices += len(s.registry.Devices(sess.Gateway()))
	}
	metrics.Gateways = gm

	if s.entities != nil {
		metrics.Entities = make(map[string]int)
		for _, e := range s.entities.Entities("") {
			metrics.Entities[string(e.Domain())]++
		}
	}

	if s.events != nil {
		metrics.Events = map[string]Queue{
			"discovery": {s.events.Discovery.Subscribers(), s.events.Discovery.Delivered(), s.events.Discovery.Dropped()},
			"values":    {s.events.Values.Subscribers(), s.events.Values.Delivered(), s.events.Values.Dropped()},
			"uncertain": {s.events.Uncertain.Subscribers(), s.events.Uncertain.Delivered(), s.events.Uncertain.Dropped()},
			"sessions":  {s.events.Sessions.Subscribers(), s.events.Sessions.Delivered(), s.events.Sessions.Dropped()},
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
