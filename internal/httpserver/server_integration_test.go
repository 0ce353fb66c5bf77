package httpserver

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"worldbroker-go/internal/audit"
	"worldbroker-go/internal/auth"
	"worldbroker-go/internal/correlator"
	"worldbroker-go/internal/dispatch"
	"worldbroker-go/internal/envelope"
	"worldbroker-go/internal/registry"
	"worldbroker-go/internal/wsserver"
)

func canUseLoopbackSockets() bool {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

type harness struct {
	restServer *httptest.Server
	worldConn  *websocket.Conn
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	if !canUseLoopbackSockets() {
		t.Skip("loopback sockets are not available in this environment")
	}

	reg := registry.New()
	pending := correlator.New()
	provider := auth.NewMemoryProvider()
	provider.RegisterSession("W1", "world-token")
	provider.RegisterAPIKey(auth.CredentialRecord{APIKey: "test-key", DailyQuota: 1000})

	journal, err := audit.NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}

	ctrl := wsserver.New(reg, pending, provider, time.Hour, time.Hour, time.Hour)
	d := dispatch.New(reg, pending, time.Second)
	d.Audit = journal

	srv := &Server{Dispatcher: d, WS: ctrl, Auth: provider, Audit: journal}
	restServer := httptest.NewServer(srv.Handler())
	t.Cleanup(restServer.Close)

	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http") + "/ws?id=W1&token=world-token"
	worldConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("world dial failed: %v", err)
	}
	t.Cleanup(func() { _ = worldConn.Close() })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("W1"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &harness{restServer: restServer, worldConn: worldConn}
}

func (h *harness) respondOnce(t *testing.T, build func(requestID string) envelope.Envelope) {
	t.Helper()
	go func() {
		_, data, err := h.worldConn.ReadMessage()
		if err != nil {
			return
		}
		in, err := envelope.Decode(data)
		if err != nil {
			return
		}
		out, _ := envelope.Encode(build(in.RequestID))
		_ = h.worldConn.WriteMessage(websocket.TextMessage, out)
	}()
}

func TestEndToEndHappyPath(t *testing.T) {
	h := startHarness(t)
	h.respondOnce(t, func(requestID string) envelope.Envelope {
		return envelope.Envelope{
			Type:      "entity/get-result",
			RequestID: requestID,
			Extra:     json.RawMessage(`{"uuid":"Actor.abc","name":"Rin"}`),
		}
	})

	req, _ := http.NewRequest(http.MethodGet, h.restServer.URL+"/entity/get?clientId=W1&uuid=Actor.abc", nil)
	req.Header.Set("X-API-Key", "test-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["name"] != "Rin" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMissingAPIKeyIs401(t *testing.T) {
	h := startHarness(t)
	resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWorldOfflineIs404(t *testing.T) {
	h := startHarness(t)
	req, _ := http.NewRequest(http.MethodGet, h.restServer.URL+"/entity/get?clientId=NeverConnected", nil)
	req.Header.Set("X-API-Key", "test-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDebugSessionsListsConnectedWorld(t *testing.T) {
	h := startHarness(t)
	resp, err := http.Get(h.restServer.URL + "/debug/sessions")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(stats) != 1 || stats[0]["ClientID"] != "W1" {
		t.Fatalf("expected one entry for W1, got %v", stats)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	h := startHarness(t)
	resp, err := http.Get(h.restServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDebugAuditReflectsSettledExchange(t *testing.T) {
	h := startHarness(t)
	h.respondOnce(t, func(requestID string) envelope.Envelope {
		return envelope.Envelope{
			Type:      "entity/get-result",
			RequestID: requestID,
			Extra:     json.RawMessage(`{"uuid":"Actor.abc"}`),
		}
	})

	req, _ := http.NewRequest(http.MethodGet, h.restServer.URL+"/entity/get?clientId=W1&uuid=Actor.abc", nil)
	req.Header.Set("X-API-Key", "test-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	var entries []map[string]any
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		auditResp, err := http.Get(h.restServer.URL + "/debug/audit?clientId=W1")
		if err != nil {
			t.Fatalf("GET /debug/audit failed: %v", err)
		}
		_ = json.NewDecoder(auditResp.Body).Decode(&entries)
		auditResp.Body.Close()
		if len(entries) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the settled exchange to appear in the audit journal")
}
