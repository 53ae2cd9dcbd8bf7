package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Manager runs one Session per configured gateway. Sessions share nothing
// but the registry, which is partitioned by GatewayID.
type Manager struct {
	sessions map[registry.GatewayID]*Session
	order    []registry.GatewayID
	logger   Logger
}

// NewManager groups sessions. Gateway ids must be unique.
func NewManager(sessions ...*Session) (*Manager, error) {
	m := &Manager{
		sessions: make(map[registry.GatewayID]*Session, len(sessions)),
		logger:   noopLogger{},
	}
	for _, s := range sessions {
		if _, dup := m.sessions[s.gw]; dup {
			return nil, fmt.Errorf("gateway: duplicate gateway id %q", s.gw)
		}
		m.sessions[s.gw] = s
		m.order = append(m.order, s.gw)
	}
	return m, nil
}

// SetLogger sets the logger for manager-level events.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Run runs every session in parallel until ctx is cancelled. A session
// that exhausts its retries stops on its own; the others keep running.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range m.order {
		s := m.sessions[id]
		g.Go(func() error {
			err := s.Run(ctx)
			if errors.Is(err, ErrRetriesExhausted) {
				m.logger.Error("gateway session stopped", "gateway_id", string(id), "error", err)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Session returns the session for gw.
func (m *Manager) Session(gw registry.GatewayID) (*Session, bool) {
	s, ok := m.sessions[gw]
	return s, ok
}

// Sessions returns every session in configuration order.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Gateways returns the configured gateway ids, sorted.
func (m *Manager) Gateways() []registry.GatewayID {
	ids := slices.Clone(m.order)
	slices.Sort(ids)
	return ids
}

// SendSetValue routes a command to the session owning key.Gateway.
func (m *Manager) SendSetValue(ctx context.Context, key registry.DeviceKey, value string, ack bool) error {
	s, ok := m.sessions[key.Gateway]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, key.Gateway)
	}
	return s.SendSetValue(ctx, key, value, ack)
}

// Optimistic reports whether gw's session applies commands before the node
// confirms them. Unknown gateways are not optimistic.
func (m *Manager) Optimistic(gw registry.GatewayID) bool {
	s, ok := m.sessions[gw]
	return ok && s.Optimistic()
}

// RemoveNode routes a node removal to the session owning gw.
func (m *Manager) RemoveNode(ctx context.Context, gw registry.GatewayID, nodeID uint8) error {
	s, ok := m.sessions[gw]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, gw)
	}
	return s.RemoveNode(ctx, nodeID)
}

// Close closes every session.
func (m *Manager) Close() error {
	var errs []error
	for _, id := range m.order {
		if err := m.sessions[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
