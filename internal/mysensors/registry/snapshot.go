package registry

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is a serialisable dump of one gateway's nodes, children and values.
type Snapshot struct {
	Version int            `json:"version"`
	Nodes   []NodeSnapshot `json:"nodes"`
}

// NodeSnapshot is the persisted form of a Node.
type NodeSnapshot struct {
	ID              uint8           `json:"id"`
	SketchName      string          `json:"sketch_name,omitempty"`
	SketchVersion   string          `json:"sketch_version,omitempty"`
	ProtocolVersion string          `json:"protocol_version,omitempty"`
	BatteryLevel    int             `json:"battery_level"`
	LastSeen        time.Time       `json:"last_seen"`
	Children        []ChildSnapshot `json:"children"`
}

// ChildSnapshot is the persisted form of a Child and its values.
type ChildSnapshot struct {
	ID          uint8                 `json:"id"`
	Type        protocol.Presentation `json:"type"`
	Description string                `json:"description,omitempty"`
	ValueTypes  []protocol.SetReq     `json:"value_types"`
	Values      []ValueSnapshot       `json:"values,omitempty"`
}

// ValueSnapshot is the persisted form of a DeviceRecord. A zero Updated
// means the value was never received.
type ValueSnapshot struct {
	Type     protocol.SetReq `json:"type"`
	Declared bool            `json:"declared"`
	Value    string          `json:"value"`
	Updated  time.Time       `json:"updated"`
}

// Empty reports whether the snapshot holds no nodes.
func (s Snapshot) Empty() bool {
	return len(s.Nodes) == 0
}

// childRef locates a child within one partition.
type childRef struct {
	node, child uint8
}

// Export captures a gateway's state. Nodes, children and values are sorted
// by id so equal states export equal snapshots.
func (r *Registry) Export(gw GatewayID) Snapshot {
	snap := Snapshot{Version: SnapshotVersion}
	p := r.partition(gw, false)
	if p == nil {
		return snap
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	values := make(map[childRef][]ValueSnapshot, len(p.records))
	for key, rec := range p.records {
		v := rec.View()
		ref := childRef{node: key.NodeID, child: key.ChildID}
		values[ref] = append(values[ref], ValueSnapshot{
			Type:     key.ValueType,
			Declared: v.Declared,
			Value:    v.Value,
			Updated:  v.Updated,
		})
	}

	for _, n := range p.nodes {
		ns := NodeSnapshot{
			ID:              n.ID,
			SketchName:      n.SketchName,
			SketchVersion:   n.SketchVersion,
			ProtocolVersion: n.ProtocolVersion,
			BatteryLevel:    n.BatteryLevel,
			LastSeen:        n.LastSeen,
		}
		for _, c := range n.Children {
			cs := ChildSnapshot{
				ID:          c.ID,
				Type:        c.Type,
				Description: c.Description,
				ValueTypes:  append([]protocol.SetReq(nil), c.ValueTypes...),
				Values:      values[childRef{node: n.ID, child: c.ID}],
			}
			sort.Slice(cs.Values, func(i, j int) bool { return cs.Values[i].Type < cs.Values[j].Type })
			ns.Children = append(ns.Children, cs)
		}
		sort.Slice(ns.Children, func(i, j int) bool { return ns.Children[i].ID < ns.Children[j].ID })
		snap.Nodes = append(snap.Nodes, ns)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	return snap
}

// Import replays a snapshot into a gateway's partition without emitting
// anything. Existing nodes, children and records are kept as they are, so
// record identity survives a replay. It returns the declared keys present in
// the snapshot, for entity layers that instantiate persisted devices.
func (r *Registry) Import(gw GatewayID, snap Snapshot) []DeviceKey {
	p := r.partition(gw, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	var keys []DeviceKey
	for _, ns := range snap.Nodes {
		n, ok := p.nodes[ns.ID]
		if !ok {
			n = &Node{
				ID:              ns.ID,
				SketchName:      ns.SketchName,
				SketchVersion:   ns.SketchVersion,
				ProtocolVersion: ns.ProtocolVersion,
				BatteryLevel:    ns.BatteryLevel,
				LastSeen:        ns.LastSeen,
				Children:        make(map[uint8]*Child, len(ns.Children)),
			}
			p.nodes[ns.ID] = n
		}

		for _, cs := range ns.Children {
			if _, ok := n.Children[cs.ID]; !ok {
				n.Children[cs.ID] = &Child{
					ID:          cs.ID,
					Type:        cs.Type,
					Description: cs.Description,
					ValueTypes:  append([]protocol.SetReq(nil), cs.ValueTypes...),
				}
			}

			for _, vt := range cs.ValueTypes {
				key := DeviceKey{Gateway: gw, NodeID: ns.ID, ChildID: cs.ID, ValueType: vt}
				if _, _, err := p.getOrCreateLocked(key); err == nil {
					keys = append(keys, key)
				}
			}

			for _, vs := range cs.Values {
				key := DeviceKey{Gateway: gw, NodeID: ns.ID, ChildID: cs.ID, ValueType: vs.Type}
				rec, created, err := p.getOrCreateLocked(key)
				if err != nil {
					continue
				}
				if created || rec.Updated().IsZero() {
					rec.mu.Lock()
					rec.value = vs.Value
					rec.updated = vs.Updated
					rec.mu.Unlock()
				}
			}
		}
	}

	r.logger.Debug("snapshot imported", "gateway_id", string(gw), "nodes", len(snap.Nodes), "devices", len(keys))
	return keys
}
