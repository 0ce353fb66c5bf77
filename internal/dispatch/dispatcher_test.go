package dispatch

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"worldbroker-go/internal/correlator"
	"worldbroker-go/internal/envelope"
	"worldbroker-go/internal/registry"
)

func canUseLoopbackSockets() bool {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// testHarness wires a real websocket connection, standing in for a world,
// into a Dispatcher, and exposes a REST endpoint via httptest.
type testHarness struct {
	t          *testing.T
	reg        *registry.Registry
	pending    *correlator.Table
	dispatcher *Dispatcher
	restServer *httptest.Server
	worldConn  *websocket.Conn
	sess       *registry.Session
}

func newTestHarness(t *testing.T, clientID string) *testHarness {
	t.Helper()
	if !canUseLoopbackSockets() {
		t.Skip("loopback sockets are not available in this environment")
	}

	reg := registry.New()
	pending := correlator.New()
	d := New(reg, pending, time.Second)

	upgrader := websocket.Upgrader{}
	var gotConn chan *websocket.Conn = make(chan *websocket.Conn, 1)
	wsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		gotConn <- conn
	}))
	t.Cleanup(wsServer.Close)

	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	serverSideConn := <-gotConn
	sess := registry.NewSession(clientID, "token", serverSideConn)
	reg.Add(sess)

	// Stand in for the session lifecycle controller's superviseClose: fail
	// every waiter still outstanding on sess the instant it closes, exactly
	// as internal/wsserver.Controller.superviseClose does.
	go func() {
		<-sess.Done()
		pending.FailSession(clientID)
	}()

	// Stand in for the session lifecycle controller's inbound pump: read
	// every frame the world sends back on the server-side connection and
	// hand responses to the correlator, exactly as internal/wsserver does.
	go func() {
		for {
			data, err := sess.ReadMessage()
			if err != nil {
				return
			}
			in, err := envelope.Decode(data)
			if err != nil {
				continue
			}
			if !in.IsResponse() {
				continue
			}
			pending.Complete(in.RequestID, correlator.Result{
				Payload:    in.Extra,
				Err:        in.Error,
				Suggestion: in.Suggestion,
			})
		}
	}()

	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := Routes()[r.Method+" "+r.URL.Path]
		d.Handle(cfg)(w, r)
	}))
	t.Cleanup(restServer.Close)

	return &testHarness{t: t, reg: reg, pending: pending, dispatcher: d, restServer: restServer, worldConn: clientConn, sess: sess}
}

// respondOnce reads a single request frame as the world and writes back a
// reply built by build, echoing the requestId.
func (h *testHarness) respondOnce(build func(requestID string) envelope.Envelope) {
	h.t.Helper()
	go func() {
		_, data, err := h.worldConn.ReadMessage()
		if err != nil {
			return
		}
		in, err := envelope.Decode(data)
		if err != nil {
			return
		}
		reply := build(in.RequestID)
		out, _ := envelope.Encode(reply)
		_ = h.worldConn.WriteMessage(websocket.TextMessage, out)
	}()
}

func TestDispatcherSuccessRoundTrip(t *testing.T) {
	h := newTestHarness(t, "W1")
	h.respondOnce(func(requestID string) envelope.Envelope {
		return envelope.Envelope{
			Type:      "entity/get-result",
			RequestID: requestID,
			Extra:     json.RawMessage(`{"uuid":"Actor.1","name":"Rin"}`),
		}
	})

	resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1&uuid=Actor.1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["name"] != "Rin" {
		t.Fatalf("unexpected response body: %v", body)
	}
}

func TestDispatcherWorldErrorMapsTo422(t *testing.T) {
	h := newTestHarness(t, "W1")
	h.respondOnce(func(requestID string) envelope.Envelope {
		return envelope.Envelope{
			Type:      "entity/get-result",
			RequestID: requestID,
			Error:     "entity not found",
		}
	})

	resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestDispatcherMissingParameterIs400(t *testing.T) {
	h := newTestHarness(t, "W1")
	resp, err := http.Get(h.restServer.URL + "/entity/get")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDispatcherWorldOfflineIs404(t *testing.T) {
	h := newTestHarness(t, "W1")
	resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=NeverConnected")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDispatcherTimeoutIs504(t *testing.T) {
	h := newTestHarness(t, "W1")
	h.dispatcher.RequestTimeout = 20 * time.Millisecond
	// No respondOnce: the world never replies.

	resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestMacroDenylistRejectedBeforeSend(t *testing.T) {
	h := newTestHarness(t, "W1")
	// Intentionally no respondOnce: a rejected request must never reach the world.

	reqBody := strings.NewReader(`{"clientId":"W1","entityType":"Macro","data":{"command":"eval(\"9999\")"}}`)
	resp, err := http.Post(h.restServer.URL+"/entity/create", "application/json", reqBody)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if !strings.Contains(body["error"], "forbidden patterns") {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestOutOfOrderRepliesDeliverExactly(t *testing.T) {
	h := newTestHarness(t, "W1")

	// The world reads both requests, then replies R2 before R1.
	go func() {
		var first, second envelope.Envelope
		for i := 0; i < 2; i++ {
			_, data, err := h.worldConn.ReadMessage()
			if err != nil {
				return
			}
			in, err := envelope.Decode(data)
			if err != nil {
				return
			}
			if i == 0 {
				first = in
			} else {
				second = in
			}
		}
		// The two GETs race, so put the requests in R1, R2 order whatever
		// order they arrived in.
		var firstParams struct {
			UUID string `json:"uuid"`
		}
		_ = json.Unmarshal(first.Extra, &firstParams)
		if firstParams.UUID == "R2" {
			first, second = second, first
		}
		replyTo := func(in envelope.Envelope, name string) {
			out, _ := envelope.Encode(envelope.Envelope{
				Type:      "entity/get-result",
				RequestID: in.RequestID,
				Extra:     json.RawMessage(`{"data":"` + name + `"}`),
			})
			_ = h.worldConn.WriteMessage(websocket.TextMessage, out)
		}
		replyTo(second, "second")
		replyTo(first, "first")
	}()

	type httpResult struct {
		uuid string
		body string
	}
	results := make(chan httpResult, 2)
	fetch := func(uuid string) {
		resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1&uuid=" + uuid)
		if err != nil {
			t.Errorf("GET failed: %v", err)
			return
		}
		defer resp.Body.Close()
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		results <- httpResult{uuid: uuid, body: body["data"]}
	}
	go fetch("R1")
	go fetch("R2")

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		r := <-results
		seen[r.uuid] = r.body
	}
	if seen["R1"] != "first" || seen["R2"] != "second" {
		t.Fatalf("expected each caller to receive its own payload, got %v", seen)
	}
}

func TestDispatcherSessionLossIs502(t *testing.T) {
	h := newTestHarness(t, "W1")
	// No respondOnce: the world reads the request, then the session is torn
	// down before it can ever reply.
	read := make(chan struct{})
	go func() {
		_, _, _ = h.worldConn.ReadMessage()
		close(read)
	}()

	results := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(h.restServer.URL + "/entity/get?clientId=W1&uuid=Actor.1")
		if err != nil {
			t.Errorf("GET failed: %v", err)
			return
		}
		results <- resp
	}()

	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("expected the world to receive the request")
	}
	if err := h.sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case resp := <-results:
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", resp.StatusCode)
		}
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["error"] != "world session was lost" {
			t.Fatalf("unexpected error body: %v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the in-flight request to fail fast once its session closed")
	}
}
