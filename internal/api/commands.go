package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mysensors/internal/entity"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Cover actions accepted by POST /covers/.../{action}.
const (
	CoverActionOpen     = "open"
	CoverActionClose    = "close"
	CoverActionStop     = "stop"
	CoverActionPosition = "position"
)

// SetValueRequest is the body of POST /devices/{gateway}/{node}/{child}/{type}.
type SetValueRequest struct {
	Value string `json:"value"`
	Ack   bool   `json:"ack"`
}

// CoverPositionRequest is the body of the "position" cover action.
type CoverPositionRequest struct {
	Position *int `json:"position"`
}

// handleSetValue sends a value to one device. The response is 202: the
// session wrote the frame, the device may not have applied it yet.
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	key, ok := parseDeviceKey(w, r)
	if !ok {
		return
	}

	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.commander.SendSetValue(r.Context(), key, req.Value, req.Ack); err != nil {
		s.logger.Debug("set value failed", "device", key.String(), "error", err)
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":    key.String(),
		"value": req.Value,
		"ack":   req.Ack,
	})
}

// handleCoverAction runs open, close, stop or position on a cover entity.
func (s *Server) handleCoverAction(w http.ResponseWriter, r *http.Request) {
	if s.entities == nil {
		writeNotFound(w, "entities are not enabled")
		return
	}
	key, ok := parseChildKey(w, r)
	if !ok {
		return
	}
	key.ValueType = protocol.ValuePercentage

	cover, err := s.entities.Cover(key)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	ctx := r.Context()
	action := chi.URLParam(r, "action")
	switch action {
	case CoverActionOpen:
		err = cover.Open(ctx)
	case CoverActionClose:
		err = cover.Close(ctx)
	case CoverActionStop:
		err = cover.Stop(ctx)
	case CoverActionPosition:
		var req CoverPositionRequest
		if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil && !errors.Is(derr, io.EOF) {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		if req.Position == nil {
			writeBadRequest(w, "position is required")
			return
		}
		err = cover.SetPosition(ctx, *req.Position)
	default:
		writeBadRequest(w, "unknown cover action: "+action)
		return
	}
	if err != nil {
		s.logger.Debug("cover action failed", "device", key.String(), "action", action, "error", err)
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, entity.ViewOf(cover))
}

// handleListEntities returns entities, optionally filtered by the gateway
// and domain query parameters.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	if s.entities == nil {
		writeNotFound(w, "entities are not enabled")
		return
	}
	gw := registry.GatewayID(r.URL.Query().Get("gateway"))
	domain := events.Domain(r.URL.Query().Get("domain"))

	views := make([]entity.View, 0)
	for _, e := range s.entities.Entities(gw) {
		if domain != "" && e.Domain() != domain {
			continue
		}
		views = append(views, entity.ViewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": views, "count": len(views)})
}

// parseDeviceKey reads {gateway}/{node}/{child}/{type}. The type is a V_*
// name or its numeric code.
func parseDeviceKey(w http.ResponseWriter, r *http.Request) (registry.DeviceKey, bool) {
	key, ok := parseChildKey(w, r)
	if !ok {
		return key, false
	}
	raw := chi.URLParam(r, "type")
	vt, known := protocol.ParseSetReq(raw)
	if !known {
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			writeBadRequest(w, "unknown value type: "+raw)
			return key, false
		}
		vt = protocol.SetReq(n)
	}
	key.ValueType = vt
	return key, true
}

func parseChildKey(w http.ResponseWriter, r *http.Request) (registry.DeviceKey, bool) {
	node, err := strconv.ParseUint(chi.URLParam(r, "node"), 10, 8)
	if err != nil || node == uint64(protocol.BroadcastNodeID) {
		writeBadRequest(w, "invalid node id")
		return registry.DeviceKey{}, false
	}
	child, err := strconv.ParseUint(chi.URLParam(r, "child"), 10, 8)
	if err != nil {
		writeBadRequest(w, "invalid child id")
		return registry.DeviceKey{}, false
	}
	return registry.DeviceKey{
		Gateway: registry.GatewayID(chi.URLParam(r, "gateway")),
		NodeID:  uint8(node),
		ChildID: uint8(child),
	}, true
}
