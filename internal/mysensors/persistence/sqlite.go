package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// timeLayout is used for every timestamp column. The empty string stores a
// zero time.
const timeLayout = time.RFC3339Nano

// SQLiteStore persists snapshots in the nodes, children and child_values
// tables. The schema must already be migrated.
type SQLiteStore struct {
	db *database.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns a store over an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save replaces everything stored for gw with snap in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, gw registry.GatewayID, snap registry.Snapshot) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		// children and child_values cascade.
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE gateway_id = ?`, string(gw)); err != nil {
			return fmt.Errorf("clearing nodes: %w", err)
		}

		for _, n := range snap.Nodes {
			const insertNode = `INSERT INTO nodes
				(gateway_id, node_id, sketch_name, sketch_version, protocol_version, battery_level, last_seen)
				VALUES (?, ?, ?, ?, ?, ?, ?)`
			if _, err := tx.ExecContext(ctx, insertNode, string(gw), int(n.ID), n.SketchName, n.SketchVersion,
				n.ProtocolVersion, n.BatteryLevel, formatTime(n.LastSeen)); err != nil {
				return fmt.Errorf("inserting node %d: %w", n.ID, err)
			}

			for _, c := range n.Children {
				const insertChild = `INSERT INTO children
					(gateway_id, node_id, child_id, presentation_type, description, value_types)
					VALUES (?, ?, ?, ?, ?, ?)`
				if _, err := tx.ExecContext(ctx, insertChild, string(gw), int(n.ID), int(c.ID), int(c.Type),
					c.Description, joinValueTypes(c.ValueTypes)); err != nil {
					return fmt.Errorf("inserting child %d/%d: %w", n.ID, c.ID, err)
				}

				for _, v := range c.Values {
					const insertValue = `INSERT INTO child_values
						(gateway_id, node_id, child_id, value_type, declared, value, updated_at)
						VALUES (?, ?, ?, ?, ?, ?, ?)`
					if _, err := tx.ExecContext(ctx, insertValue, string(gw), int(n.ID), int(c.ID), int(v.Type),
						boolToInt(v.Declared), v.Value, formatTime(v.Updated)); err != nil {
						return fmt.Errorf("inserting value %d/%d/%s: %w", n.ID, c.ID, v.Type, err)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", gw, err)
	}
	return nil
}

// Load rebuilds the snapshot for gw. It returns ErrSnapshotNotFound when no
// node rows exist for the gateway.
func (s *SQLiteStore) Load(ctx context.Context, gw registry.GatewayID) (registry.Snapshot, error) {
	snap := registry.Snapshot{Version: registry.SnapshotVersion}

	nodes, index, err := s.loadNodes(ctx, gw)
	if err != nil {
		return snap, err
	}
	if len(nodes) == 0 {
		return snap, ErrSnapshotNotFound
	}

	children, err := s.loadChildren(ctx, gw, nodes, index)
	if err != nil {
		return snap, err
	}
	if err := s.loadValues(ctx, gw, nodes, index, children); err != nil {
		return snap, err
	}

	snap.Nodes = nodes
	return snap, nil
}

func (s *SQLiteStore) loadNodes(ctx context.Context, gw registry.GatewayID) ([]registry.NodeSnapshot, map[uint8]int, error) {
	const query = `SELECT node_id, sketch_name, sketch_version, protocol_version, battery_level, last_seen
		FROM nodes WHERE gateway_id = ? ORDER BY node_id`
	rows, err := s.db.QueryContext(ctx, query, string(gw))
	if err != nil {
		return nil, nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []registry.NodeSnapshot
	index := make(map[uint8]int)
	for rows.Next() {
		var (
			n        registry.NodeSnapshot
			id       int
			lastSeen string
		)
		if err := rows.Scan(&id, &n.SketchName, &n.SketchVersion, &n.ProtocolVersion, &n.BatteryLevel, &lastSeen); err != nil {
			return nil, nil, fmt.Errorf("scanning node: %w", err)
		}
		n.ID = uint8(id)
		if n.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, nil, fmt.Errorf("node %d last_seen: %w", id, err)
		}
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, index, nil
}

// childIndex locates a child inside nodes by (node, child) id.
type childIndex map[[2]uint8]int

func (s *SQLiteStore) loadChildren(ctx context.Context, gw registry.GatewayID, nodes []registry.NodeSnapshot, index map[uint8]int) (childIndex, error) {
	const query = `SELECT node_id, child_id, presentation_type, description, value_types
		FROM children WHERE gateway_id = ? ORDER BY node_id, child_id`
	rows, err := s.db.QueryContext(ctx, query, string(gw))
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()

	children := make(childIndex)
	for rows.Next() {
		var (
			nodeID, childID, typ int
			c                    registry.ChildSnapshot
			valueTypes           string
		)
		if err := rows.Scan(&nodeID, &childID, &typ, &c.Description, &valueTypes); err != nil {
			return nil, fmt.Errorf("scanning child: %w", err)
		}
		c.ID = uint8(childID)
		c.Type = protocol.Presentation(typ)
		if c.ValueTypes, err = splitValueTypes(valueTypes); err != nil {
			return nil, fmt.Errorf("child %d/%d value_types: %w", nodeID, childID, err)
		}

		ni, ok := index[uint8(nodeID)]
		if !ok {
			continue
		}
		children[[2]uint8{uint8(nodeID), c.ID}] = len(nodes[ni].Children)
		nodes[ni].Children = append(nodes[ni].Children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating children: %w", err)
	}
	return children, nil
}

func (s *SQLiteStore) loadValues(ctx context.Context, gw registry.GatewayID, nodes []registry.NodeSnapshot, index map[uint8]int, children childIndex) error {
	const query = `SELECT node_id, child_id, value_type, declared, value, updated_at
		FROM child_values WHERE gateway_id = ? ORDER BY node_id, child_id, value_type`
	rows, err := s.db.QueryContext(ctx, query, string(gw))
	if err != nil {
		return fmt.Errorf("querying values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nodeID, childID, typ, declared int
			v                              registry.ValueSnapshot
			updated                        string
		)
		if err := rows.Scan(&nodeID, &childID, &typ, &declared, &v.Value, &updated); err != nil {
			return fmt.Errorf("scanning value: %w", err)
		}
		v.Type = protocol.SetReq(typ)
		v.Declared = declared != 0
		if v.Updated, err = parseTime(updated); err != nil {
			return fmt.Errorf("value %d/%d/%d updated_at: %w", nodeID, childID, typ, err)
		}

		ci, ok := children[[2]uint8{uint8(nodeID), uint8(childID)}]
		if !ok {
			continue
		}
		n := &nodes[index[uint8(nodeID)]]
		n.Children[ci].Values = append(n.Children[ci].Values, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating values: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func joinValueTypes(types []protocol.SetReq) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.Itoa(int(t))
	}
	return strings.Join(parts, ",")
}

func splitValueTypes(s string) ([]protocol.SetReq, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	types := make([]protocol.SetReq, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, err
		}
		types = append(types, protocol.SetReq(n))
	}
	return types, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
