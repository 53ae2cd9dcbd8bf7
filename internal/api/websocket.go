package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/logging"
)

// Frame types on the event stream.
const (
	FrameWelcome     = "welcome"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"

	// AllChannels subscribes to every event channel.
	AllChannels = "*"

	// streamClientBuffer is how many encoded frames a client may lag behind
	// before it starts missing events.
	streamClientBuffer = 256
)

// Stream defaults applied by NewStream to zero config values.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

// channelSet is a set of event channels, one bit per channel.
type channelSet uint8

// channelOrder fixes the bit of each channel and the order names are listed in.
var channelOrder = []string{
	ChannelDeviceDiscovered,
	ChannelDeviceValue,
	ChannelDeviceUncertain,
	ChannelGatewayState,
}

func channelBit(name string) (channelSet, bool) {
	for i, c := range channelOrder {
		if c == name {
			return 1 << i, true
		}
	}
	return 0, false
}

// parseChannels resolves names into a set. Unknown names are returned
// separately and contribute nothing.
func parseChannels(names []string) (set channelSet, unknown []string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case AllChannels:
			set |= 1<<len(channelOrder) - 1
			continue
		}
		bit, ok := channelBit(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		set |= bit
	}
	return set, unknown
}

func (s channelSet) has(name string) bool {
	bit, ok := channelBit(name)
	return ok && s&bit != 0
}

func (s channelSet) names() []string {
	out := make([]string, 0, len(channelOrder))
	for i, c := range channelOrder {
		if s&(1<<i) != 0 {
			out = append(out, c)
		}
	}
	return out
}

// StreamFrame is one message on the event stream, in either direction.
// Clients send subscribe, unsubscribe and ping with Channels and ID set.
type StreamFrame struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Seq      uint64    `json:"seq,omitempty"`
	At       time.Time `json:"at,omitzero"`
	Channels []string  `json:"channels,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// Stream fans registry and session events out to WebSocket clients.
// Every event frame carries a sequence number shared by all channels, so a
// client that lagged behind can tell it missed frames.
type Stream struct {
	logger     *logging.Logger
	maxMessage int64
	pingEvery  time.Duration
	pongWait   time.Duration

	mu      sync.RWMutex
	clients map[string]*streamClient

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// streamClient is one connected WebSocket.
type streamClient struct {
	id     string
	stream *Stream
	conn   *websocket.Conn

	mu       sync.Mutex
	out      chan []byte
	channels channelSet
	closed   bool
	dropped  uint64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewStream creates an event stream with no clients.
func NewStream(cfg config.WebSocketConfig, logger *logging.Logger) *Stream {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Stream{
		logger:     logger,
		maxMessage: int64(cfg.MaxMessageSize),
		pingEvery:  time.Duration(cfg.PingInterval) * time.Second,
		pongWait:   time.Duration(cfg.PongTimeout) * time.Second,
		clients:    make(map[string]*streamClient),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (st *Stream) Run(ctx context.Context) {
	<-ctx.Done()

	st.mu.Lock()
	clients := st.clients
	st.clients = make(map[string]*streamClient)
	st.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// newClient builds a client subscribed to channels.
func (st *Stream) newClient(conn *websocket.Conn, channels channelSet) *streamClient {
	return &streamClient{
		id:       uuid.NewString(),
		stream:   st,
		conn:     conn,
		out:      make(chan []byte, streamClientBuffer),
		channels: channels,
	}
}

func (st *Stream) attach(c *streamClient) {
	st.mu.Lock()
	st.clients[c.id] = c
	n := len(st.clients)
	st.mu.Unlock()
	st.logger.Debug("event stream client connected", "client_id", c.id, "channels", c.subscribed(), "clients", n)
}

// detach removes c and closes its outbound queue. Safe to call twice.
func (st *Stream) detach(c *streamClient) {
	st.mu.Lock()
	_, ok := st.clients[c.id]
	delete(st.clients, c.id)
	n := len(st.clients)
	st.mu.Unlock()
	if !ok {
		return
	}
	c.shutdown()
	st.logger.Debug("event stream client disconnected", "client_id", c.id, "dropped", c.droppedFrames(), "clients", n)
}

// Publish sends payload on channel to every subscribed client. A client
// whose queue is full misses the frame; the gap shows in the sequence.
func (st *Stream) Publish(channel string, payload any) {
	data, err := json.Marshal(StreamFrame{
		Type:    FrameEvent,
		Channel: channel,
		Seq:     st.seq.Add(1),
		At:      time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		st.logger.Error("encoding stream event failed", "channel", channel, "error", err)
		return
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, c := range st.clients {
		if !c.wants(channel) {
			continue
		}
		if !c.enqueue(data) {
			st.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (st *Stream) ClientCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.clients)
}

// Dropped returns how many event frames were skipped for slow clients.
func (st *Stream) Dropped() uint64 {
	return st.dropped.Load()
}

// Sequence returns the sequence number of the last event published.
func (st *Stream) Sequence() uint64 {
	return st.seq.Load()
}

// handleWebSocket upgrades the request to an event stream. The optional
// "channels" query parameter (comma separated, "*" for all) sets the
// initial subscriptions; an unknown channel is rejected before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial channelSet
	if raw := r.URL.Query().Get("channels"); raw != "" {
		set, unknown := parseChannels(strings.Split(raw, ","))
		if len(unknown) > 0 {
			writeBadRequest(w, "unknown channels: "+strings.Join(unknown, ", "))
			return
		}
		initial = set
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := s.stream.newClient(conn, initial)
	s.stream.attach(c)
	c.reply(StreamFrame{Type: FrameWelcome, ID: c.id, Channels: c.subscribed(), Payload: map[string]any{
		"available": channelOrder,
		"seq":       s.stream.Sequence(),
	}})

	go c.writeLoop()
	go c.readLoop()
}

func (c *streamClient) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels.has(channel)
}

func (c *streamClient) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels.names()
}

func (c *streamClient) droppedFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// enqueue queues data for the write loop. It reports false when the frame
// was dropped because the queue is full. Frames for a closed client are
// discarded silently.
func (c *streamClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.out <- data:
		return true
	default:
		c.dropped++
		return false
	}
}

// shutdown closes the outbound queue once; the write loop then sends a
// close frame and exits.
func (c *streamClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *streamClient) readLoop() {
	st := c.stream
	defer func() {
		st.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(st.maxMessage)
	idle := st.pingEvery + st.pongWait
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.logger.Warn("event stream read failed", "client_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(idle))

		var req StreamFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(StreamFrame{Type: FrameError, Payload: errorPayload("frame is not valid JSON")})
			continue
		}
		c.handle(req)
	}
}

func (c *streamClient) writeLoop() {
	st := c.stream
	ping := time.NewTicker(st.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(st.pongWait))
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(st.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client request.
func (c *streamClient) handle(req StreamFrame) {
	switch req.Type {
	case FramePing:
		c.reply(StreamFrame{Type: FramePong, ID: req.ID, Seq: c.stream.Sequence()})
	case FrameSubscribe, FrameUnsubscribe:
		set, unknown := parseChannels(req.Channels)
		if len(unknown) > 0 {
			c.reply(StreamFrame{Type: FrameError, ID: req.ID, Channels: unknown,
				Payload: errorPayload("unknown channels: " + strings.Join(unknown, ", "))})
			return
		}
		c.mu.Lock()
		if req.Type == FrameSubscribe {
			c.channels |= set
		} else {
			c.channels &^= set
		}
		now := c.channels.names()
		c.mu.Unlock()
		c.stream.logger.Debug("event stream subscriptions changed", "client_id", c.id, "channels", now)
		c.reply(StreamFrame{Type: FrameAck, ID: req.ID, Channels: now})
	default:
		c.reply(StreamFrame{Type: FrameError, ID: req.ID, Payload: errorPayload("unknown frame type: " + req.Type)})
	}
}

// reply queues a control frame. Control frames share the event queue, so a
// client too far behind misses them too.
func (c *streamClient) reply(f StreamFrame) {
	f.At = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
