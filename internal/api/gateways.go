package api

import (
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/gateway"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// gatewayView is a session's statistics plus registry counts.
type gatewayView struct {
	gateway.Stats
	Nodes   int `json:"nodes"`
	Devices int `json:"devices"`
}

// nodeView is the JSON form of a registry node.
type nodeView struct {
	ID              uint8       `json:"node_id"`
	Name            string      `json:"name"`
	SketchName      string      `json:"sketch_name,omitempty"`
	SketchVersion   string      `json:"sketch_version,omitempty"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	BatteryLevel    *int        `json:"battery_level,omitempty"`
	LastSeen        time.Time   `json:"last_seen,omitzero"`
	Children        []childView `json:"children"`
}

type childView struct {
	ID          uint8    `json:"child_id"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	ValueTypes  []string `json:"value_types"`
}

// deviceView is the JSON form of a registry record.
type deviceView struct {
	ID        string `json:"id"`
	NodeID    uint8  `json:"node_id"`
	ChildID   uint8  `json:"child_id"`
	ValueType string `json:"value_type"`
	registry.DeviceView
}

func (s *Server) gatewayView(sess *gateway.Session) gatewayView {
	gw := sess.Gateway()
	return gatewayView{
		Stats:   sess.Stats(),
		Nodes:   len(s.registry.Nodes(gw)),
		Devices: len(s.registry.Devices(gw)),
	}
}

// handleListGateways returns every configured gateway in config order.
func (s *Server) handleListGateways(w http.ResponseWriter, _ *http.Request) {
	sessions := s.gateways.Sessions()
	views := make([]gatewayView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.gatewayView(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"gateways": views, "count": len(views)})
}

// handleGetGateway returns one gateway.
func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.gatewayView(sess))
}

// handleListNodes returns the nodes known on a gateway, ordered by id.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	nodes := s.registry.Nodes(sess.Gateway())
	views := make([]nodeView, 0, len(nodes))
	for i := range nodes {
		views = append(views, toNodeView(&nodes[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": views, "count": len(views)})
}

// handleListGatewayDevices returns every device record of a gateway.
func (s *Server) handleListGatewayDevices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	records := s.registry.Devices(sess.Gateway())
	views := make([]deviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, deviceView{
			ID:         rec.Key.String(),
			NodeID:     rec.Key.NodeID,
			ChildID:    rec.Key.ChildID,
			ValueType:  rec.Key.ValueType.String(),
			DeviceView: rec,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleRemoveNode forgets a node on a gateway along with its children,
// values and entities. The session must be connected.
func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	node, err := strconv.ParseUint(chi.URLParam(r, "node"), 10, 8)
	if err != nil {
		writeBadRequest(w, "invalid node id")
		return
	}
	gw := sess.Gateway()

	if err := s.gateways.RemoveNode(r.Context(), gw, uint8(node)); err != nil {
		s.logger.Debug("remove node failed", "gateway_id", string(gw), "node_id", node, "error", err)
		writeCommandError(w, err)
		return
	}
	if s.entities != nil {
		s.entities.RemoveNode(gw, uint8(node))
	}
	s.logger.Info("node removed", "gateway_id", string(gw), "node_id", node)
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the {gateway} URL parameter, writing 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*gateway.Session, bool) {
	id := chi.URLParam(r, "gateway")
	sess, ok := s.gateways.Session(registry.GatewayID(id))
	if !ok {
		writeNotFound(w, "gateway not found: "+id)
		return nil, false
	}
	return sess, true
}

func toNodeView(n *registry.Node) nodeView {
	v := nodeView{
		ID:              n.ID,
		Name:            n.DisplayName(),
		SketchName:      n.SketchName,
		SketchVersion:   n.SketchVersion,
		ProtocolVersion: n.ProtocolVersion,
		LastSeen:        n.LastSeen,
		Children:        make([]childView, 0, len(n.Children)),
	}
	if n.BatteryLevel >= 0 {
		level := n.BatteryLevel
		v.BatteryLevel = &level
	}
	for _, id := range slices.Sorted(maps.Keys(n.Children)) {
		c := n.Children[id]
		types := make([]string, 0, len(c.ValueTypes))
		for _, vt := range c.ValueTypes {
			types = append(types, vt.String())
		}
		v.Children = append(v.Children, childView{
			ID:          c.ID,
			Type:        c.Type.String(),
			Description: c.Description,
			ValueTypes:  types,
		})
	}
	return v
}
