package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/entity"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/gateway"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport/transporttest"
)

const testGateway registry.GatewayID = "gw1"

var (
	lampKey  = registry.DeviceKey{Gateway: testGateway, NodeID: 5, ChildID: 1, ValueType: protocol.ValueStatus}
	doorKey  = registry.DeviceKey{Gateway: testGateway, NodeID: 5, ChildID: 2, ValueType: protocol.ValueTripped}
	blindKey = registry.DeviceKey{Gateway: testGateway, NodeID: 6, ChildID: 0, ValueType: protocol.ValuePercentage}
)

type sentValue struct {
	key   registry.DeviceKey
	value string
	ack   bool
}

// recordingCommander stands in for the gateway Manager. It reports every
// gateway as optimistic.
type recordingCommander struct {
	mu   sync.Mutex
	sent []sentValue
	err  error
}

func (c *recordingCommander) Optimistic(registry.GatewayID) bool { return true }

func (c *recordingCommander) SendSetValue(_ context.Context, key registry.DeviceKey, value string, ack bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentValue{key, value, ack})
	return nil
}

func (c *recordingCommander) last() (sentValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return sentValue{}, false
	}
	return c.sent[len(c.sent)-1], true
}

type stubCheck struct{ err error }

func (f stubCheck) HealthCheck(context.Context) error { return f.err }

type testEnv struct {
	srv       *Server
	reg       *registry.Registry
	hub       *events.Hub
	session   *gateway.Session
	transport *transporttest.Transport
	entities  *entity.Manager
	commander *recordingCommander
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// seedRegistry presents a node with a relay and a door contact, and a blind
// on a second node.
func seedRegistry(t *testing.T, reg *registry.Registry) {
	t.Helper()
	reg.UpsertNode(testGateway, 5, registry.NodeMeta{SketchName: "Hall", SketchVersion: "1.2"})
	reg.UpsertNode(testGateway, 6, registry.NodeMeta{Name: "Lounge blind"})
	if err := reg.SetBatteryLevel(testGateway, 5, 87); err != nil {
		t.Fatalf("SetBatteryLevel: %v", err)
	}
	children := []struct {
		key registry.DeviceKey
		typ protocol.Presentation
	}{
		{doorKey, protocol.PresentationDoor},
		{lampKey, protocol.PresentationBinary},
		{blindKey, protocol.PresentationCover},
	}
	for _, c := range children {
		if _, err := reg.UpsertChild(testGateway, c.key.NodeID, c.key.ChildID, c.typ, "", []protocol.SetReq{c.key.ValueType}); err != nil {
			t.Fatalf("UpsertChild: %v", err)
		}
		if _, _, err := reg.GetOrCreate(c.key); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}
}

// newTestEnv builds a server over a seeded registry and one idle session.
// Commands go to a recordingCommander unless useSession is set.
func newTestEnv(t *testing.T, useSession bool, checks map[string]HealthChecker) *testEnv {
	t.Helper()

	reg := registry.New()
	seedRegistry(t, reg)
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	tr := transporttest.New()
	sess, err := gateway.NewSession(gateway.SessionOptions{
		Gateway:   testGateway,
		Address:   "pipe://gw1",
		Transport: tr,
		Registry:  reg,
		Events:    hub,
		Timeouts:  gateway.Timeouts{Connect: time.Second, Ack: time.Second, Handshake: time.Second},
		Reconnect: gateway.ReconnectPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	mgr, err := gateway.NewManager(sess)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	env := &testEnv{reg: reg, hub: hub, session: sess, transport: tr, commander: &recordingCommander{}}

	var cmd entity.Commander = env.commander
	if useSession {
		cmd = mgr
	}
	env.entities = entity.NewManager(reg, cmd)
	env.entities.Restore([]registry.DeviceKey{doorKey, lampKey, blindKey})

	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Registry: reg,
		Gateways: mgr,
		Entities: env.entities,
		Events:   hub,
		Checks:   checks,
		Version:  "test",
	}
	if !useSession {
		deps.Commander = env.commander
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	mgr, err := gateway.NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: registry.New(), Gateways: mgr}},
		{"no registry", Deps{Logger: testLogger(), Gateways: mgr}},
		{"no gateways", Deps{Logger: testLogger(), Registry: registry.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false, map[string]HealthChecker{"database": stubCheck{}})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["gateways"] != float64(1) {
		t.Errorf("gateways = %v, want 1", body["gateways"])
	}
}

func TestHealth_DegradedWhenCheckFails(t *testing.T) {
	env := newTestEnv(t, false, map[string]HealthChecker{
		"database": stubCheck{},
		"mqtt":     stubCheck{err: errors.New("not connected")},
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if got := checks["mqtt"].(map[string]any)["error"]; got != "not connected" {
		t.Errorf("mqtt error = %v", got)
	}
	if got := checks["database"].(map[string]any)["status"]; got != "ok" {
		t.Errorf("database status = %v", got)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, false, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/gateways", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, false, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Gateways ──────────────────────────────────────────────────────

func TestListGateways(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodGet, "/api/v1/gateways", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	gw := body["gateways"].([]any)[0].(map[string]any)
	if gw["gateway_id"] != "gw1" {
		t.Errorf("gateway_id = %v", gw["gateway_id"])
	}
	if gw["state"] != "disconnected" {
		t.Errorf("state = %v, want disconnected", gw["state"])
	}
	if gw["nodes"] != float64(2) || gw["devices"] != float64(3) {
		t.Errorf("nodes/devices = %v/%v, want 2/3", gw["nodes"], gw["devices"])
	}
}

func TestGetGateway_NotFound(t *testing.T) {
	env := newTestEnv(t, false, nil)
	w := env.do(t, http.MethodGet, "/api/v1/gateways/elsewhere", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListNodes(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodGet, "/api/v1/gateways/gw1/nodes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Nodes []nodeView `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(body.Nodes))
	}

	hall := body.Nodes[0]
	if hall.ID != 5 || hall.Name != "Hall 5" || hall.SketchVersion != "1.2" {
		t.Errorf("node 5 = %+v", hall)
	}
	if hall.BatteryLevel == nil || *hall.BatteryLevel != 87 {
		t.Errorf("battery = %v, want 87", hall.BatteryLevel)
	}
	if len(hall.Children) != 2 || hall.Children[0].ID != 1 || hall.Children[1].ID != 2 {
		t.Fatalf("children = %+v, want ids 1,2", hall.Children)
	}
	if hall.Children[1].Type != "S_DOOR" || hall.Children[1].ValueTypes[0] != "V_TRIPPED" {
		t.Errorf("door child = %+v", hall.Children[1])
	}

	if body.Nodes[1].Name != "Lounge blind" {
		t.Errorf("node 6 name = %q", body.Nodes[1].Name)
	}
	if body.Nodes[1].BatteryLevel != nil {
		t.Error("unreported battery level should be omitted")
	}
}

func TestListGatewayDevices(t *testing.T) {
	env := newTestEnv(t, false, nil)
	if _, err := env.reg.UpdateValue(doorKey, "1"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/gateways/gw1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	devices := body["devices"].([]any)
	if len(devices) != 3 {
		t.Fatalf("devices = %d, want 3", len(devices))
	}
	var door map[string]any
	for _, d := range devices {
		if m := d.(map[string]any); m["id"] == doorKey.String() {
			door = m
		}
	}
	if door == nil {
		t.Fatal("door device missing")
	}
	if door["value"] != "1" || door["has_value"] != true || door["value_type"] != "V_TRIPPED" {
		t.Errorf("door = %v", door)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestSetValue(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/V_STATUS", `{"value":"1","ack":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	got, ok := env.commander.last()
	if !ok {
		t.Fatal("nothing sent")
	}
	want := sentValue{lampKey, "1", true}
	if got != want {
		t.Errorf("sent %+v, want %+v", got, want)
	}

	// Numeric value types are accepted too.
	w = env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/2", `{"value":"0"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("numeric type status = %d", w.Code)
	}
	if got, _ := env.commander.last(); got.key != lampKey || got.value != "0" || got.ack {
		t.Errorf("sent %+v", got)
	}
}

func TestSetValue_BadRequests(t *testing.T) {
	env := newTestEnv(t, false, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad node", "/api/v1/devices/gw1/x/1/V_STATUS", `{"value":"1"}`},
		{"broadcast node", "/api/v1/devices/gw1/255/1/V_STATUS", `{"value":"1"}`},
		{"bad child", "/api/v1/devices/gw1/5/300/V_STATUS", `{"value":"1"}`},
		{"unknown type", "/api/v1/devices/gw1/5/1/V_NOPE", `{"value":"1"}`},
		{"invalid json", "/api/v1/devices/gw1/5/1/V_STATUS", `{"value":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if _, ok := env.commander.last(); ok {
		t.Error("bad requests must not reach the gateway")
	}
}

func TestSetValue_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{gateway.ErrSessionNotReady, http.StatusServiceUnavailable},
		{gateway.ErrSessionClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: gw9", gateway.ErrUnknownGateway), http.StatusNotFound},
		{fmt.Errorf("%w: 5/9", registry.ErrChildNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: payload too long", protocol.ErrMalformedFrame), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, false, nil)
			env.commander.err = tt.err
			w := env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/V_STATUS", `{"value":"1"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSetValue_SessionNotConnected(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/V_STATUS", `{"value":"1"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/devices/gw9/5/1/V_STATUS", `{"value":"1"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown gateway status = %d, want 404", w.Code)
	}
}

// connectSession runs env's session against the pipe transport and
// completes the handshake.
func connectSession(t *testing.T, env *testEnv) *transporttest.Peer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = env.session.Run(ctx) }()

	peer, err := env.transport.Accept(2 * time.Second)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := peer.Recv(2 * time.Second); err != nil {
		t.Fatalf("version request: %v", err)
	}
	peer.Send("0;255;3;0;14;Gateway startup complete.")

	deadline := time.Now().Add(2 * time.Second)
	for env.session.State() != gateway.StateReady {
		if time.Now().After(deadline) {
			t.Fatalf("session state = %s, want ready", env.session.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return peer
}

func TestSetValue_ThroughLiveSession(t *testing.T) {
	env := newTestEnv(t, true, nil)
	peer := connectSession(t, env)

	w := env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/V_STATUS", `{"value":"1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	frame, err := peer.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame != "5;1;1;0;2;1" {
		t.Errorf("frame = %q, want 5;1;1;0;2;1", frame)
	}
}

func TestSetValue_LineBreakRejected(t *testing.T) {
	env := newTestEnv(t, true, nil)
	peer := connectSession(t, env)

	for _, body := range []string{
		`{"value":"1\n5;255;3;0;13;"}`,
		`{"value":"1\r"}`,
	} {
		w := env.do(t, http.MethodPost, "/api/v1/devices/gw1/5/1/V_STATUS", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400: %s", body, w.Code, w.Body.String())
		}
	}
	if n := peer.Pending(); n != 0 {
		t.Errorf("%d frames written for rejected values, want 0", n)
	}
}

func TestRemoveNode(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do(t, http.MethodDelete, "/api/v1/gateways/gw1/nodes/5", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("disconnected status = %d, want 503: %s", w.Code, w.Body.String())
	}
	if _, ok := env.reg.Node(testGateway, 5); !ok {
		t.Fatal("node removed while the session was not ready")
	}

	peer := connectSession(t, env)

	w = env.do(t, http.MethodDelete, "/api/v1/gateways/gw1/nodes/5", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", w.Code, w.Body.String())
	}
	if _, ok := env.reg.Node(testGateway, 5); ok {
		t.Error("node 5 still in the registry")
	}
	if _, ok := env.reg.Lookup(lampKey); ok {
		t.Error("lamp record still in the registry")
	}
	for _, key := range []registry.DeviceKey{lampKey, doorKey} {
		if _, ok := env.entities.Get(key); ok {
			t.Errorf("entity %s still present", key)
		}
	}
	if _, ok := env.entities.Get(blindKey); !ok {
		t.Error("entity on another node was removed")
	}
	if n := peer.Pending(); n != 0 {
		t.Errorf("%d frames written for a node removal, want 0", n)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/gateways/gw1/nodes/5", http.StatusNotFound},
		{"/api/v1/gateways/attic/nodes/6", http.StatusNotFound},
		{"/api/v1/gateways/gw1/nodes/x", http.StatusBadRequest},
		{"/api/v1/gateways/gw1/nodes/300", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := env.do(t, http.MethodDelete, tt.path, ""); w.Code != tt.want {
			t.Errorf("DELETE %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

// ─── Covers and entities ───────────────────────────────────────────

func TestCoverAction(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodPost, "/api/v1/covers/gw1/6/0/open", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("open status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["state"] != "open" {
		t.Errorf("state after open = %v", body["state"])
	}
	got, _ := env.commander.last()
	up := blindKey
	up.ValueType = protocol.ValueUp
	if got != (sentValue{up, "1", true}) {
		t.Errorf("open sent %+v", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/covers/gw1/6/0/position", `{"position":25}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("position status = %d: %s", w.Code, w.Body.String())
	}
	if got, _ := env.commander.last(); got != (sentValue{blindKey, "25", true}) {
		t.Errorf("position sent %+v", got)
	}
}

func TestCoverAction_Errors(t *testing.T) {
	env := newTestEnv(t, false, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"position out of range", "/api/v1/covers/gw1/6/0/position", `{"position":150}`, http.StatusBadRequest},
		{"position missing", "/api/v1/covers/gw1/6/0/position", `{}`, http.StatusBadRequest},
		{"unknown action", "/api/v1/covers/gw1/6/0/spin", "", http.StatusBadRequest},
		{"not a cover", "/api/v1/covers/gw1/5/1/open", "", http.StatusNotFound},
		{"unknown child", "/api/v1/covers/gw1/6/9/open", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestListEntities(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodGet, "/api/v1/entities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["count"] != float64(3) {
		t.Errorf("count = %v, want 3", body["count"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/entities?domain=binary_sensor", "")
	var body struct {
		Entities []entity.View `json:"entities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entities) != 1 || body.Entities[0].ID != doorKey.String() {
		t.Fatalf("entities = %+v, want the door only", body.Entities)
	}
	if body.Entities[0].DeviceClass != "door" || body.Entities[0].State != entity.StateUnknown {
		t.Errorf("door = %+v", body.Entities[0])
	}

	w = env.do(t, http.MethodGet, "/api/v1/entities?gateway=other", "")
	if body := decodeBody(t, w); body["count"] != float64(0) {
		t.Errorf("other gateway count = %v, want 0", body["count"])
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Gateways.Total != 1 || m.Gateways.ByState["disconnected"] != 1 {
		t.Errorf("gateways = %+v", m.Gateways)
	}
	if m.Gateways.Nodes != 2 || m.Gateways.Devices != 3 {
		t.Errorf("nodes/devices = %d/%d", m.Gateways.Nodes, m.Gateways.Devices)
	}
	if m.Entities["cover"] != 1 || m.Entities["binary_sensor"] != 1 {
		t.Errorf("entities = %v", m.Entities)
	}
	if m.MQTT.Enabled {
		t.Error("mqtt reported enabled without a client")
	}
	if m.Events["values"].Subscribers != 1 {
		t.Errorf("value subscribers = %d, want the relay", m.Events["values"].Subscribers)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, false, nil)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	addr := env.srv.Addr().String()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := newTestEnv(t, false, nil)
	if err := first.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer first.srv.Close()

	second := newTestEnv(t, false, nil)
	_, port, _ := strings.Cut(first.srv.Addr().String(), ":")
	fmt.Sscanf(port, "%d", &second.srv.cfg.Port)
	if err := second.srv.Start(context.Background()); err == nil {
		second.srv.Close()
		t.Error("Start() on a bound port succeeded")
	}
}

func TestCoverAction_NotOptimisticKeepsReportedState(t *testing.T) {
	env := newTestEnv(t, true, nil)
	peer := connectSession(t, env)

	w := env.do(t, http.MethodPost, "/api/v1/covers/gw1/6/0/open", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("open status = %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["state"] != entity.StateUnknown {
		t.Errorf("state after open = %v, want %s until the blind reports", body["state"], entity.StateUnknown)
	}
	frame, err := peer.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame != "6;0;1;1;29;1" {
		t.Errorf("frame = %q, want V_UP with ack", frame)
	}
}
