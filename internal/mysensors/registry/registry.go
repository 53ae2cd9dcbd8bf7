package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps DeviceKeys to live DeviceRecords and tracks the node/child
// tree of every gateway.
//
// State is partitioned by GatewayID. Each partition has its own lock, so
// sessions for different gateways never contend. All public methods are
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	partitions map[GatewayID]*partition
	now        func() time.Time
	logger     Logger
}

type partition struct {
	mu      sync.RWMutex
	nodes   map[uint8]*Node
	records map[DeviceKey]*DeviceRecord
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now for value timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		partitions: make(map[GatewayID]*partition),
		now:        time.Now,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// partition returns the gateway's partition, creating it when create is set.
func (r *Registry) partition(gw GatewayID, create bool) *partition {
	r.mu.RLock()
	p := r.partitions[gw]
	r.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p = r.partitions[gw]; p == nil {
		p = &partition{
			nodes:   make(map[uint8]*Node),
			records: make(map[DeviceKey]*DeviceRecord),
		}
		r.partitions[gw] = p
	}
	return p
}

// Gateways returns every gateway with registry state, sorted.
func (r *Registry) Gateways() []GatewayID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]GatewayID, 0, len(r.partitions))
	for id := range r.partitions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// UpsertNode creates the node if needed and merges non-empty metadata.
// It reports whether the node was created.
func (r *Registry) UpsertNode(gw GatewayID, nodeID uint8, meta NodeMeta) bool {
	p := r.partition(gw, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodes[nodeID]
	if !ok {
		n = &Node{ID: nodeID, BatteryLevel: -1, Children: make(map[uint8]*Child)}
		p.nodes[nodeID] = n
	}
	if meta.SketchName != "" {
		n.SketchName = meta.SketchName
	}
	if meta.SketchVersion != "" {
		n.SketchVersion = meta.SketchVersion
	}
	if meta.ProtocolVersion != "" {
		n.ProtocolVersion = meta.ProtocolVersion
	}
	if meta.Name != "" {
		n.Name = meta.Name
	}
	return !ok
}

// TouchNode records traffic from a node.
func (r *Registry) TouchNode(gw GatewayID, nodeID uint8) error {
	return r.withNode(gw, nodeID, func(n *Node) {
		now := r.now()
		if now.After(n.LastSeen) {
			n.LastSeen = now
		}
	})
}

// SetBatteryLevel stores a battery percentage reported by a node.
func (r *Registry) SetBatteryLevel(gw GatewayID, nodeID uint8, level int) error {
	return r.withNode(gw, nodeID, func(n *Node) { n.BatteryLevel = level })
}

func (r *Registry) withNode(gw GatewayID, nodeID uint8, fn func(*Node)) error {
	p := r.partition(gw, false)
	if p == nil {
		return fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}
	fn(n)
	return nil
}

// UpsertChild registers a child under an existing node. The value-type set
// is recorded on first presentation only; a re-presentation with the same
// type refreshes the description, a different type returns
// ErrPresentationConflict. It reports whether the child was created.
func (r *Registry) UpsertChild(gw GatewayID, nodeID, childID uint8, typ protocol.Presentation, description string, valueTypes []protocol.SetReq) (bool, error) {
	p := r.partition(gw, false)
	if p == nil {
		return false, fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}

	if c, exists := n.Children[childID]; exists {
		if c.Type != typ {
			return false, fmt.Errorf("%w: %s/%d/%d is %s, got %s", ErrPresentationConflict, gw, nodeID, childID, c.Type, typ)
		}
		if description != "" {
			c.Description = description
		}
		return false, nil
	}

	n.Children[childID] = &Child{
		ID:          childID,
		Type:        typ,
		Description: description,
		ValueTypes:  slices.Clone(valueTypes),
	}
	return true, nil
}

// GetOrCreate returns the record for key, creating it on first use. Repeated
// calls return the same pointer. The key's node and child must already exist.
func (r *Registry) GetOrCreate(key DeviceKey) (*DeviceRecord, bool, error) {
	p := r.partition(key.Gateway, false)
	if p == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrNodeNotFound, key)
	}

	p.mu.RLock()
	rec, ok := p.records[key]
	p.mu.RUnlock()
	if ok {
		return rec, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getOrCreateLocked(key)
}

func (p *partition) getOrCreateLocked(key DeviceKey) (*DeviceRecord, bool, error) {
	if rec, ok := p.records[key]; ok {
		return rec, false, nil
	}
	n, ok := p.nodes[key.NodeID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrNodeNotFound, key)
	}
	c, ok := n.Children[key.ChildID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrChildNotFound, key)
	}
	rec := &DeviceRecord{key: key, declared: c.Declares(key.ValueType)}
	p.records[key] = rec
	return rec, true, nil
}

// Lookup returns the record for key, if any.
func (r *Registry) Lookup(key DeviceKey) (*DeviceRecord, bool) {
	p := r.partition(key.Gateway, false)
	if p == nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[key]
	return rec, ok
}

// UpdateValue stores an authoritative value for key and returns the value it
// replaced. It clears the uncertain flag.
func (r *Registry) UpdateValue(key DeviceKey, value string) (string, error) {
	rec, ok := r.Lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	return rec.set(value, r.now(), true), nil
}

// SetOptimistic stores a value the gateway is about to send. Unlike
// UpdateValue it leaves the uncertain flag alone. The returned view is the
// state to hand back to Rollback if the send fails.
func (r *Registry) SetOptimistic(key DeviceKey, value string) (DeviceView, error) {
	rec, ok := r.Lookup(key)
	if !ok {
		return DeviceView{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	prev := rec.View()
	rec.set(value, r.now(), false)
	return prev, nil
}

// Rollback restores the state returned by SetOptimistic after a failed send.
// A record that had no value before goes back to having none.
func (r *Registry) Rollback(key DeviceKey, previous DeviceView) error {
	rec, ok := r.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	rec.restore(previous)
	return nil
}

// MarkUncertain flags key as having an unacknowledged command.
func (r *Registry) MarkUncertain(key DeviceKey) error {
	rec, ok := r.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	rec.mu.Lock()
	rec.uncertain = true
	rec.mu.Unlock()
	return nil
}

// Node returns a copy of a node.
func (r *Registry) Node(gw GatewayID, nodeID uint8) (Node, bool) {
	p := r.partition(gw, false)
	if p == nil {
		return Node{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Child returns a copy of a child.
func (r *Registry) Child(gw GatewayID, nodeID, childID uint8) (Child, bool) {
	n, ok := r.Node(gw, nodeID)
	if !ok {
		return Child{}, false
	}
	c, ok := n.Children[childID]
	if !ok {
		return Child{}, false
	}
	return *c, true
}

// Nodes returns copies of every node of a gateway, ordered by id.
func (r *Registry) Nodes(gw GatewayID) []Node {
	p := r.partition(gw, false)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodes := make([]Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		nodes = append(nodes, n.clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Devices returns a view of every record of a gateway, ordered by key.
func (r *Registry) Devices(gw GatewayID) []DeviceView {
	p := r.partition(gw, false)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	recs := make([]*DeviceRecord, 0, len(p.records))
	for _, rec := range p.records {
		recs = append(recs, rec)
	}
	p.mu.RUnlock()

	views := make([]DeviceView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, rec.View())
	}
	sort.Slice(views, func(i, j int) bool { return lessKey(views[i].Key, views[j].Key) })
	return views
}

func lessKey(a, b DeviceKey) bool {
	if a.Gateway != b.Gateway {
		return a.Gateway < b.Gateway
	}
	if a.NodeID != b.NodeID {
		return a.NodeID < b.NodeID
	}
	if a.ChildID != b.ChildID {
		return a.ChildID < b.ChildID
	}
	return a.ValueType < b.ValueType
}

// NextNodeID returns the lowest unused node id in 1-254, for answering
// I_ID_REQUEST. The id is reserved by creating an empty node.
func (r *Registry) NextNodeID(gw GatewayID) (uint8, error) {
	p := r.partition(gw, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 1; id < int(protocol.BroadcastNodeID); id++ {
		if _, taken := p.nodes[uint8(id)]; !taken {
			p.nodes[uint8(id)] = &Node{ID: uint8(id), BatteryLevel: -1, Children: make(map[uint8]*Child)}
			return uint8(id), nil
		}
	}
	return 0, ErrNoFreeNodeID
}

// RemoveNode deletes a node with its children and records. Nodes are never
// removed implicitly.
func (r *Registry) RemoveNode(gw GatewayID, nodeID uint8) error {
	p := r.partition(gw, false)
	if p == nil {
		return fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: %s/%d", ErrNodeNotFound, gw, nodeID)
	}
	delete(p.nodes, nodeID)
	for key := range p.records {
		if key.NodeID == nodeID {
			delete(p.records, key)
		}
	}
	r.logger.Info("node removed", "gateway_id", string(gw), "node_id", nodeID)
	return nil
}
