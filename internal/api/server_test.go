package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/config"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/database"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/logging"
	"github.com/foxace/ajax-sync-core/internal/journal"
	"github.com/foxace/ajax-sync-core/internal/state"
	_ "github.com/foxace/ajax-sync-core/migrations" // register embedded schema
)

// testServer creates a Server over a seeded state store.
func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if deps.Store == nil {
		deps.Store = seedStore(t)
	}
	deps.Config = config.APIConfig{Host: "127.0.0.1", Port: 0}
	deps.WS = config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
	deps.Logger = log
	deps.Version = "test"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv
}

// seedStore builds a store with one hub, two devices, and a group.
func seedStore(t *testing.T) *state.Store {
	t.Helper()

	store := state.NewStore(state.Options{
		ProtectionWindow: 5 * time.Second,
		ProvisionalGrace: 2,
	})
	store.EnsureHub("hub-01", "Home")

	_, err := store.Apply(ajax.UpdateEvent{
		HubID:      "hub-01",
		EntityID:   "hub-01",
		EntityType: ajax.EntityHub,
		Source:     ajax.SourcePoll,
		Kind:       ajax.KindMetadata,
		Metadata: &ajax.MetadataSnapshot{
			Rooms:  []ajax.Room{{ID: "r1", Name: "Hallway"}},
			Groups: []ajax.GroupState{{ID: "g1", Name: "Perimeter", ArmedMode: ajax.ModeDisarmed}},
			Devices: []ajax.DeviceMeta{
				{ID: "d1", Name: "Hall Motion", Type: ajax.DeviceMotion, RoomID: "r1"},
				{ID: "d2", Name: "Front Door", Type: ajax.DeviceContact, RoomID: "r1"},
			},
		},
	})
	if err != nil {
		t.Fatalf("seeding metadata: %v", err)
	}

	_, err = store.Apply(ajax.UpdateEvent{
		HubID:      "hub-01",
		EntityID:   "hub-01",
		EntityType: ajax.EntityHub,
		Source:     ajax.SourcePoll,
		Kind:       ajax.KindState,
		Fields: ajax.Fields{
			ajax.FieldArmedMode: string(ajax.ModeArmed),
			ajax.FieldOnline:    true,
		},
	})
	if err != nil {
		t.Fatalf("seeding hub state: %v", err)
	}

	return store
}

// testJournal creates a migrated SQLite journal in a temp directory.
func testJournal(t *testing.T) *journal.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return journal.NewSQLiteRepository(db.DB)
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealthz(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if int(resp["hubs"].(float64)) != 1 {
		t.Errorf("hubs = %v, want 1", resp["hubs"])
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/healthz")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Hub Endpoint Tests ────────────────────────────────────────────

func TestListHubs(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Fatalf("count = %v, want 1", resp["count"])
	}

	hubs := resp["hubs"].([]any)
	hub := hubs[0].(map[string]any)
	if hub["id"] != "hub-01" || hub["armed_mode"] != "armed" {
		t.Errorf("hub summary = %v", hub)
	}
	if int(hub["device_count"].(float64)) != 2 {
		t.Errorf("device_count = %v, want 2", hub["device_count"])
	}
}

func TestGetHub(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/hub-01")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var hub ajax.HubState
	if err := json.Unmarshal(w.Body.Bytes(), &hub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if hub.Name != "Home" || !hub.Online {
		t.Errorf("hub = %s/online=%v, want Home/true", hub.Name, hub.Online)
	}
	if len(hub.Rooms) != 1 || len(hub.Groups) != 1 {
		t.Errorf("rooms = %d, groups = %d, want 1/1", len(hub.Rooms), len(hub.Groups))
	}
}

func TestGetHub_NotFound(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/hub-01/devices")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 2 {
		t.Fatalf("count = %v, want 2", resp["count"])
	}

	devices := resp["devices"].([]any)
	first := devices[0].(map[string]any)
	if first["id"] != "d1" {
		t.Errorf("devices not sorted by id: first = %v", first["id"])
	}
}

func TestGetDevice(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/hub-01/devices/d2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var device ajax.DeviceRecord
	if err := json.Unmarshal(w.Body.Bytes(), &device); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if device.Name != "Front Door" || device.Type != ajax.DeviceContact {
		t.Errorf("device = %s/%s", device.Name, device.Type)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/hub-01/devices/ghost")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Event Journal Tests ───────────────────────────────────────────

func TestListEvents(t *testing.T) {
	repo := testJournal(t)
	srv := testServer(t, Deps{Journal: repo})

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	notifications := []ajax.NotificationEvent{
		{HubID: "hub-01", Tag: "smokedetected", Severity: ajax.SeverityAlarm, OccurredAt: base},
		{HubID: "hub-01", Tag: "disarm", Severity: ajax.SeverityInfo, OccurredAt: base.Add(time.Minute)},
	}
	for i := range notifications {
		if err := repo.RecordNotification(context.Background(), &notifications[i]); err != nil {
			t.Fatalf("RecordNotification: %v", err)
		}
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/events?hub=hub-01&severity=alarm")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var result journal.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Total != 1 || len(result.Notifications) != 1 {
		t.Fatalf("total = %d, rows = %d, want 1/1", result.Total, len(result.Notifications))
	}
	if result.Notifications[0].Tag != "smokedetected" {
		t.Errorf("tag = %q, want smokedetected", result.Notifications[0].Tag)
	}
}

func TestListEvents_InvalidSeverity(t *testing.T) {
	srv := testServer(t, Deps{Journal: testJournal(t)})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/events?severity=bogus")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListEvents_JournalDisabled(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodGet, "/api/v1/events")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListTransitions(t *testing.T) {
	repo := testJournal(t)
	srv := testServer(t, Deps{Journal: repo})

	err := repo.RecordModeTransition(context.Background(), &journal.ModeTransition{
		HubID:  "hub-01",
		From:   ajax.ModeDisarmed,
		To:     ajax.ModeArmed,
		Source: ajax.SourceStream,
	})
	if err != nil {
		t.Fatalf("RecordModeTransition: %v", err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/hubs/hub-01/transitions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

// ─── Refresh Endpoint Tests ────────────────────────────────────────

type fakeRefresher struct {
	calls []string
}

func (f *fakeRefresher) ForceRefresh(hubID string) {
	f.calls = append(f.calls, hubID)
}

func TestRefreshHub(t *testing.T) {
	refresher := &fakeRefresher{}
	srv := testServer(t, Deps{Refresh: refresher})

	w := doRequest(t, srv, http.MethodPost, "/api/v1/hubs/hub-01/refresh")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(refresher.calls) != 1 || refresher.calls[0] != "hub-01" {
		t.Errorf("refresh calls = %v, want [hub-01]", refresher.calls)
	}
}

func TestRefreshHub_Unavailable(t *testing.T) {
	srv := testServer(t, Deps{})

	w := doRequest(t, srv, http.MethodPost, "/api/v1/hubs/hub-01/refresh")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func dialWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	srv := testServer(t, Deps{})
	conn := dialWebSocket(t, srv)

	// Subscribe to the notifications channel.
	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "req-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelNotifications}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "req-1" {
		t.Fatalf("ack = %+v, want response/req-1", ack)
	}

	// Wait until the subscription is registered, then broadcast.
	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	srv.hub.Broadcast(ChannelNotifications, ajax.NotificationEvent{
		ID:    "n-1",
		HubID: "hub-01",
		Tag:   "dooropened",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelNotifications {
		t.Errorf("event = %+v", event)
	}

	payload := event.Payload.(map[string]any)
	if payload["tag"] != "dooropened" {
		t.Errorf("payload tag = %v, want dooropened", payload["tag"])
	}
}

func TestWebSocketIgnoresUnsubscribedChannel(t *testing.T) {
	srv := testServer(t, Deps{})
	conn := dialWebSocket(t, srv)

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "req-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelState}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON ack: %v", err)
	}

	// Broadcast on a channel the client did not subscribe to, then on the
	// subscribed one. Only the second should arrive.
	srv.hub.Broadcast(ChannelNotifications, map[string]string{"tag": "hidden"})
	srv.hub.Broadcast(ChannelState, ajax.ChangeSet{HubIDs: []string{"hub-01"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON event: %v", err)
	}
	if event.EventType != ChannelState {
		t.Errorf("event channel = %q, want state", event.EventType)
	}
}

func TestWebSocketRejectsUnknownChannel(t *testing.T) {
	srv := testServer(t, Deps{})
	conn := dialWebSocket(t, srv)

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "req-1",
		Payload: WSSubscribePayload{Channels: []string{"weather"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if reply.Type != WSTypeError {
		t.Fatalf("reply type = %q, want error", reply.Type)
	}
}

func TestWebSocketPing(t *testing.T) {
	srv := testServer(t, Deps{})
	conn := dialWebSocket(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p-1" {
		t.Errorf("pong = %+v", pong)
	}
}
