package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/discovery"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/persistence"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
)

// storeTimeout bounds a single snapshot load or save.
const storeTimeout = 5 * time.Second

// command is a write submitted to the session loop.
type command struct {
	msg protocol.Message
	key registry.DeviceKey
	// set marks a SendSetValue command, which takes part in optimistic
	// updates and ack tracking.
	set bool
	// removeNode deletes key.NodeID from the registry instead of writing.
	removeNode bool
	reply      chan error
}

// Session owns the connection to one physical gateway. All registry
// mutation for the gateway happens on the goroutine running Run.
//
// Create with NewSession, start with Run, stop with Close.
type Session struct {
	opts       SessionOptions
	gw         registry.GatewayID
	reg        *registry.Registry
	hub        *events.Hub
	dispatcher *discovery.Dispatcher
	logger     Logger
	telemetry  Telemetry
	timeouts   Timeouts
	now        func() time.Time

	mu             sync.Mutex
	state          State
	leftReady      chan struct{}
	gatewayVersion string

	cmds chan command

	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	exited    chan struct{}

	// Owned by the loop goroutine.
	restored  bool
	acks      *ackTable
	requested map[uint8]bool

	stats counters
}

// NewSession validates opts and creates a disconnected session. A nil
// Registry or Events gets a private one.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Gateway == "" {
		return nil, errors.New("gateway: session needs a gateway id")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("gateway %s: session needs a transport", opts.Gateway)
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Events == nil {
		opts.Events = events.NewHub()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = noopTelemetry{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		opts:      opts,
		gw:        opts.Gateway,
		reg:       opts.Registry,
		hub:       opts.Events,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		timeouts:  opts.Timeouts.withDefaults(),
		now:       opts.Now,
		state:     StateDisconnected,
		cmds:      make(chan command),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		acks:      newAckTable(),
	}
	s.dispatcher = discovery.NewDispatcher(s.reg, s.hub.Discovery,
		discovery.WithLogger(s.logger),
		discovery.WithNodeNames(s.nodeName),
	)
	return s, nil
}

// Gateway returns the session's GatewayID.
func (s *Session) Gateway() registry.GatewayID {
	return s.gw
}

// Registry returns the registry the session writes to.
func (s *Session) Registry() *registry.Registry {
	return s.reg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run connects and serves the gateway until ctx is cancelled or Close is
// called, reconnecting with backoff after every failure. It returns nil on
// shutdown and ErrRetriesExhausted when the reconnect policy gives up.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.exited)
	defer s.setState(StateClosed, "shutdown")

	select {
	case <-s.done:
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := newBackoff(s.opts.Reconnect)
	reason := "start"
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting, reason)
		conn, err := s.open(ctx)
		if err == nil {
			bo.Reset()
			err = s.serve(ctx, conn)
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
				s.logger.Debug("closing gateway connection", "gateway_id", string(s.gw), "error", cerr)
			}
			s.saveSnapshot("disconnect")
			if ctx.Err() != nil {
				return nil
			}
			s.stats.reconnects.Add(1)
			s.logger.Warn("gateway connection lost", "gateway_id", string(s.gw), "error", err)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			s.stats.connectFailures.Add(1)
			s.logger.Warn("gateway connection failed", "gateway_id", string(s.gw),
				"address", s.opts.Address, "error", err)
		}
		reason = err.Error()
		s.setState(StateDisconnected, reason)

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			s.logger.Error("giving up on gateway", "gateway_id", string(s.gw),
				"max_retries", s.opts.Reconnect.MaxRetries, "error", err)
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		s.logger.Debug("reconnecting after delay", "gateway_id", string(s.gw), "delay", delay)
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// Close stops the session and waits for Run to return. Commands issued
// afterwards fail with ErrSessionClosed. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.running.Load() {
		<-s.exited
		return nil
	}
	s.setState(StateClosed, "closed")
	return nil
}

func (s *Session) open(ctx context.Context) (transport.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Connect)
	defer cancel()
	conn, err := s.opts.Transport.Open(ctx, s.opts.Address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs the event loop for one connection. It returns why the
// connection ended.
func (s *Session) serve(ctx context.Context, conn transport.Conn) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go readLoop(conn, frames, readErr, stop)

	s.requested = make(map[uint8]bool)
	defer s.expireAll()

	s.setState(StateHandshaking, "connected")
	if err := s.write(conn, protocol.NewVersionRequest()); err != nil {
		return err
	}

	if !s.restored {
		s.restore(ctx)
		s.restored = true
	}

	var handshakeC <-chan time.Time
	if s.opts.SkipHandshakeWait {
		s.setState(StateReady, "handshake not required")
	} else {
		handshake := time.NewTimer(s.timeouts.Handshake)
		defer handshake.Stop()
		handshakeC = handshake.C
	}

	probeAfter := s.timeouts.HeartbeatSilence / 2
	silence := time.NewTimer(probeAfter)
	defer silence.Stop()
	probeSent := false

	ackTick := time.NewTicker(ackCheckInterval(s.timeouts.Ack))
	defer ackTick.Stop()

	var saveC <-chan time.Time
	if s.opts.Store != nil {
		saveTick := time.NewTicker(s.timeouts.SaveInterval)
		defer saveTick.Stop()
		saveC = saveTick.C
	}

	for {
		var cmds chan command
		if s.State() == StateReady {
			cmds = s.cmds
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("gateway closed the connection: %w", err)
			}
			return fmt.Errorf("reading from gateway: %w", err)

		case frame := <-frames:
			silence.Reset(probeAfter)
			probeSent = false
			if err := s.handleFrame(conn, frame); err != nil {
				return err
			}

		case cmd := <-cmds:
			if cmd.removeNode {
				cmd.reply <- s.removeNode(cmd.key.NodeID)
				continue
			}
			err := s.execute(conn, cmd)
			cmd.reply <- err
			if err != nil {
				return err
			}

		case <-handshakeC:
			if s.State() == StateHandshaking {
				s.logger.Warn("gateway did not confirm readiness, continuing",
					"gateway_id", string(s.gw), "timeout", s.timeouts.Handshake)
				s.setState(StateReady, "handshake timeout")
			}

		case <-silence.C:
			if probeSent {
				return errHeartbeatSilence
			}
			probeSent = true
			s.logger.Debug("gateway quiet, probing", "gateway_id", string(s.gw))
			if err := s.write(conn, protocol.NewVersionRequest()); err != nil {
				return err
			}
			silence.Reset(s.timeouts.HeartbeatSilence - probeAfter)

		case <-ackTick.C:
			s.expireAcks(s.now())

		case <-saveC:
			s.saveSnapshot("periodic")
		}
	}
}

// readLoop forwards frames from conn until a read fails or stop closes.
func readLoop(conn transport.Conn, frames chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	for {
		frame, err := conn.Read()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-stop:
			return
		}
	}
}

func (s *Session) write(conn transport.Conn, msg protocol.Message) error {
	if err := conn.Write(msg.Encode()); err != nil {
		return fmt.Errorf("writing %s: %w", msg, err)
	}
	s.stats.framesTx.Add(1)
	s.logger.Debug("frame sent", "gateway_id", string(s.gw), "frame", msg.String())
	return nil
}

// setState moves the session to a new state and announces the transition.
// Closed is terminal.
func (s *Session) setState(to State, reason string) {
	s.mu.Lock()
	from := s.state
	if from == to || from == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = to
	if to == StateReady {
		s.leftReady = make(chan struct{})
	} else if s.leftReady != nil {
		close(s.leftReady)
		s.leftReady = nil
	}
	s.mu.Unlock()

	at := s.now()
	s.logger.Info("gateway session state changed", "gateway_id", string(s.gw),
		"from", from.String(), "to", to.String(), "reason", reason)
	s.hub.Sessions.Publish(events.SessionState{
		Gateway: s.gw,
		From:    from.String(),
		To:      to.String(),
		Reason:  reason,
		At:      at,
	})
	s.telemetry.WriteSessionState(string(s.gw), from.String(), to.String(), reason, at)
}

// readyGate returns a channel that closes when the session leaves Ready, or
// the error a command must fail with right now.
func (s *Session) readyGate() (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return nil, ErrSessionClosed
	case s.state != StateReady:
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotReady, s.gw, s.state)
	}
	return s.leftReady, nil
}

func (s *Session) setGatewayVersion(v string) {
	s.mu.Lock()
	s.gatewayVersion = v
	s.mu.Unlock()
}

// restore replays the persisted snapshot into the registry. It runs once,
// on the first connection, and never emits discovery events.
func (s *Session) restore(ctx context.Context) {
	if s.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	snap, err := s.opts.Store.Load(ctx, s.gw)
	switch {
	case errors.Is(err, persistence.ErrSnapshotNotFound):
		s.logger.Debug("no persisted state", "gateway_id", string(s.gw))
		return
	case err != nil:
		s.logger.Warn("loading persisted state failed, starting empty", "gateway_id", string(s.gw), "error", err)
		return
	}

	keys := s.reg.Import(s.gw, snap)
	for _, n := range snap.Nodes {
		if name := s.nodeName(n.ID); name != "" {
			s.reg.UpsertNode(s.gw, n.ID, registry.NodeMeta{Name: name})
		}
	}
	s.logger.Info("persisted state restored", "gateway_id", string(s.gw),
		"nodes", len(snap.Nodes), "devices", len(keys))

	if s.opts.OnRestore != nil {
		s.opts.OnRestore(keys)
	}
}

// saveSnapshot writes the gateway's registry partition. Failures are logged
// and otherwise ignored.
func (s *Session) saveSnapshot(reason string) {
	if s.opts.Store == nil || !s.restored {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snap := s.reg.Export(s.gw)
	if err := s.opts.Store.Save(ctx, s.gw, snap); err != nil {
		s.logger.Warn("saving persisted state failed", "gateway_id", string(s.gw), "reason", reason, "error", err)
		return
	}
	s.logger.Debug("persisted state saved", "gateway_id", string(s.gw), "reason", reason, "nodes", len(snap.Nodes))
}

func (s *Session) nodeName(id uint8) string {
	if s.opts.NodeNames == nil {
		return ""
	}
	return s.opts.NodeNames(id)
}

// ackCheckInterval is how often pending acks are swept: a quarter of the
// ack timeout, at least 10ms.
func ackCheckInterval(ack time.Duration) time.Duration {
	if d := ack / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
