package entity

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/discovery"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Manager owns every entity, keyed by DeviceKey.
//
// All public methods are thread-safe.
type Manager struct {
	reg    *registry.Registry
	cmd    Commander
	logger Logger
	now    func() time.Time

	mu       sync.RWMutex
	entities map[registry.DeviceKey]Entity
}

// NewManager creates an empty entity manager. cmd may be nil when no
// commands will be sent.
func NewManager(reg *registry.Registry, cmd Commander) *Manager {
	return &Manager{
		reg:      reg,
		cmd:      cmd,
		logger:   noopLogger{},
		now:      time.Now,
		entities: make(map[registry.DeviceKey]Entity),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetCommander sets where cover commands are sent. Entities created
// earlier keep the commander they were built with.
func (m *Manager) SetCommander(cmd Commander) {
	m.mu.Lock()
	m.cmd = cmd
	m.mu.Unlock()
}

// Run adds an entity for every discovery event on ch until ctx is
// cancelled or ch closes. Subscribe before the sessions start so no event
// is missed.
func (m *Manager) Run(ctx context.Context, ch <-chan events.Discovery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if _, _, err := m.Add(ev.Key, ev.Domain, ev.DeviceClass); err != nil {
				m.logger.Warn("cannot create entity", "device", ev.Key.String(), "error", err)
			}
		}
	}
}

// Restore adds entities for keys replayed from a snapshot. The domain comes
// from each child's presentation type.
func (m *Manager) Restore(keys []registry.DeviceKey) {
	for _, key := range keys {
		child, ok := m.reg.Child(key.Gateway, key.NodeID, key.ChildID)
		if !ok {
			m.logger.Warn("restored key has no child", "device", key.String())
			continue
		}
		capability, _ := discovery.Resolve(child.Type)
		if _, _, err := m.Add(key, capability.Domain, capability.DeviceClass); err != nil {
			m.logger.Warn("cannot restore entity", "device", key.String(), "error", err)
		}
	}
}

// Add creates the entity for key unless it already exists. It reports
// whether a new entity was created.
func (m *Manager) Add(key registry.DeviceKey, domain events.Domain, deviceClass string) (Entity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entities[key]; ok {
		return e, false, nil
	}

	rec, ok := m.reg.Lookup(key)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", registry.ErrDeviceNotFound, key)
	}

	b := base{key: key, rec: rec, reg: m.reg, domain: domain, deviceClass: deviceClass}
	var e Entity
	switch domain {
	case events.DomainBinarySensor:
		e = &BinarySensor{base: b}
	case events.DomainCover:
		e = &Cover{base: b, cmd: m.cmd, now: m.now}
	default:
		e = &Sensor{base: b}
	}
	m.entities[key] = e

	m.logger.Info("entity added", "device", key.String(), "domain", string(domain), "name", e.Name())
	return e, true, nil
}

// RemoveNode drops every entity of a node and returns how many were removed.
func (m *Manager) RemoveNode(gw registry.GatewayID, nodeID uint8) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.entities {
		if key.Gateway == gw && key.NodeID == nodeID {
			delete(m.entities, key)
			n++
		}
	}
	if n > 0 {
		m.logger.Info("node entities removed", "gateway_id", string(gw), "node_id", nodeID, "count", n)
	}
	return n
}

// Get returns the entity for key.
func (m *Manager) Get(key registry.DeviceKey) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[key]
	return e, ok
}

// Cover returns the cover entity for key.
func (m *Manager) Cover(key registry.DeviceKey) (*Cover, error) {
	e, ok := m.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	c, ok := e.(*Cover)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCover, key, e.Domain())
	}
	return c, nil
}

// Entities returns every entity sorted by key, optionally limited to one
// gateway.
func (m *Manager) Entities(gw registry.GatewayID) []Entity {
	m.mu.RLock()
	out := make([]Entity, 0, len(m.entities))
	for k, e := range m.entities {
		if gw == "" || k.Gateway == gw {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entity) int {
		return compareKeys(a.Key(), b.Key())
	})
	return out
}

// Count returns the number of entities.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

func compareKeys(a, b registry.DeviceKey) int {
	switch {
	case a.Gateway != b.Gateway:
		if a.Gateway < b.Gateway {
			return -1
		}
		return 1
	case a.NodeID != b.NodeID:
		return int(a.NodeID) - int(b.NodeID)
	case a.ChildID != b.ChildID:
		return int(a.ChildID) - int(b.ChildID)
	default:
		return int(a.ValueType) - int(b.ValueType)
	}
}
