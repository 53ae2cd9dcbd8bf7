package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// GatewayID distinguishes one physical gateway connection from another.
type GatewayID string

// DeviceKey addresses one discovered entity.
type DeviceKey struct {
	Gateway   GatewayID
	NodeID    uint8
	ChildID   uint8
	ValueType protocol.SetReq
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%s", k.Gateway, k.NodeID, k.ChildID, k.ValueType)
}

// NodeMeta carries the node attributes learned from presentation and
// internal messages. Empty fields leave the stored value unchanged.
type NodeMeta struct {
	SketchName      string
	SketchVersion   string
	ProtocolVersion string
	Name            string
}

// Node is a physical device on the network. Copies handed out by the
// registry are detached from registry state.
type Node struct {
	ID              uint8
	SketchName      string
	SketchVersion   string
	ProtocolVersion string
	Name            string
	// BatteryLevel is a percentage, or -1 when never reported.
	BatteryLevel int
	LastSeen     time.Time
	Children     map[uint8]*Child
}

// DisplayName is the configured name, or "<sketch name> <node id>".
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("%s %d", n.SketchName, n.ID)
}

func (n *Node) clone() Node {
	c := *n
	c.Children = make(map[uint8]*Child, len(n.Children))
	for id, child := range n.Children {
		cc := *child
		cc.ValueTypes = slices.Clone(child.ValueTypes)
		c.Children[id] = &cc
	}
	return c
}

// Child is one sensor or actuator hosted on a node. ValueTypes is fixed at
// first presentation.
type Child struct {
	ID          uint8
	Type        protocol.Presentation
	Description string
	ValueTypes  []protocol.SetReq
}

// Declares reports whether v is part of the child's presented value set.
func (c *Child) Declares(v protocol.SetReq) bool {
	return slices.Contains(c.ValueTypes, v)
}

// DeviceRecord holds the last-known value for one DeviceKey. The registry
// hands out the same pointer for the lifetime of the key, so entities can
// hold on to it.
type DeviceRecord struct {
	key      DeviceKey
	declared bool

	mu        sync.RWMutex
	value     string
	updated   time.Time
	uncertain bool
}

// Key returns the record's DeviceKey.
func (r *DeviceRecord) Key() DeviceKey {
	return r.key
}

// Declared reports whether the value type was part of the child's presentation.
func (r *DeviceRecord) Declared() bool {
	return r.declared
}

// Value returns the last-known value and whether one was ever received.
func (r *DeviceRecord) Value() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, !r.updated.IsZero()
}

// Updated returns the time of the last value change.
func (r *DeviceRecord) Updated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}

// Uncertain reports whether a command to this device went unacknowledged
// since the device last reported.
func (r *DeviceRecord) Uncertain() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uncertain
}

// View returns a point-in-time copy suitable for serialisation.
func (r *DeviceRecord) View() DeviceView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return DeviceView{
		Key:       r.key,
		Declared:  r.declared,
		Value:     r.value,
		HasValue:  !r.updated.IsZero(),
		Updated:   r.updated,
		Uncertain: r.uncertain,
	}
}

// set stores v, keeping the timestamp monotonic, and returns the previous value.
func (r *DeviceRecord) set(v string, now time.Time, clearUncertain bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.value
	r.value = v
	if now.After(r.updated) {
		r.updated = now
	}
	if clearUncertain {
		r.uncertain = false
	}
	return prev
}

// restore puts back the value and timestamp captured in v. The uncertain
// flag is left as is.
func (r *DeviceRecord) restore(v DeviceView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = v.Value
	r.updated = v.Updated
	if !v.HasValue {
		r.updated = time.Time{}
	}
}

// DeviceView is an immutable copy of a DeviceRecord.
type DeviceView struct {
	Key       DeviceKey `json:"-"`
	Declared  bool      `json:"declared"`
	Value     string    `json:"value"`
	HasValue  bool      `json:"has_value"`
	Updated   time.Time `json:"updated"`
	Uncertain bool      `json:"uncertain"`
}
