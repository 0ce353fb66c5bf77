// Package wsserver is the session lifecycle controller: WebSocket handshake
// validation, the ping scheduler, the inactivity sweep, and close-path
// cleanup. It is the only component that wires the Registry, the Pending
// table, and the auth adapter together.
package wsserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"worldbroker-go/internal/auth"
	"worldbroker-go/internal/correlator"
	"worldbroker-go/internal/envelope"
	"worldbroker-go/internal/registry"
)

// Logger is the narrow logging contract this package depends on, satisfied
// by internal/telemetry.Logger.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// SessionGauge is notified of the registry's live-session count after every
// add/remove, satisfied by internal/telemetry.Metrics.SetSessionsActive.
type SessionGauge interface {
	SetSessionsActive(n int)
}

// PushSink receives inbound frames that carry no requestId — unsolicited
// world-push events. Broadcasting them onward to other callers is out of
// scope; DiscardPushes is the default.
type PushSink interface {
	HandlePush(clientID string, e envelope.Envelope)
}

// DiscardPushes is a PushSink that drops every push event.
type DiscardPushes struct{}

func (DiscardPushes) HandlePush(string, envelope.Envelope) {}

// Controller owns the WebSocket upgrade endpoint and the background ping
// and sweep loops for every Session the Registry holds.
type Controller struct {
	Registry *registry.Registry
	Pending  *correlator.Table
	Auth     auth.IdentityVerifier

	Telemetry Logger
	Metrics   SessionGauge
	Push      PushSink

	PingInterval  time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	upgrader websocket.Upgrader
	stop     chan struct{}
}

// New returns a Controller wiring reg and pending together, verifying
// handshakes with verifier, on the given ping, idle, and sweep cadences.
func New(reg *registry.Registry, pending *correlator.Table, verifier auth.IdentityVerifier, pingInterval, idleTimeout, sweepInterval time.Duration) *Controller {
	return &Controller{
		Registry:      reg,
		Pending:       pending,
		Auth:          verifier,
		Push:          DiscardPushes{},
		PingInterval:  pingInterval,
		IdleTimeout:   idleTimeout,
		SweepInterval: sweepInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}
}

// StartSweeping launches the registry's inactivity sweep on SweepInterval.
// Call once at startup; Stop ends it.
func (c *Controller) StartSweeping() {
	go func() {
		ticker := time.NewTicker(c.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				evicted := c.Registry.SweepInactive(c.IdleTimeout)
				for _, clientID := range evicted {
					c.logInfo("session swept for inactivity", map[string]any{"clientId": clientID})
				}
				c.reportSessionCount()
			}
		}
	}()
}

// Stop ends the sweep loop. It does not close existing sessions; callers
// wanting a full graceful shutdown should also call Registry.CloseAll and
// Pending.Shutdown.
func (c *Controller) Stop() {
	close(c.stop)
}

// HandleUpgrade is the WebSocket endpoint's http.HandlerFunc: it upgrades
// the connection, validates the handshake's id/token query params against
// Auth, and — on success — registers the Session and runs its ping loop
// and inbound pump until the connection closes.
func (c *Controller) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	token := r.URL.Query().Get("token")

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if id == "" || token == "" || !c.Auth.ValidateHeadlessSession(id, token) {
		c.rejectHandshake(conn, id)
		return
	}

	sess := registry.NewSession(id, token, conn)
	if prev := c.Registry.Add(sess); prev != nil {
		c.logInfo("session superseded", map[string]any{"clientId": id})
	}
	c.reportSessionCount()

	go c.superviseClose(sess)
	go c.runPingLoop(sess)
	c.runInboundPump(sess)
}

// rejectHandshake closes a freshly upgraded connection with close code
// 1008 for a missing or invalid credential.
func (c *Controller) rejectHandshake(conn *websocket.Conn, id string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing or invalid credentials"),
		time.Now().Add(time.Second))
	_ = conn.Close()
	c.logWarn("handshake rejected", map[string]any{"id": id})
}

// superviseClose fails every waiter still outstanding on sess the moment it
// closes, instead of leaving those waiters to time out.
func (c *Controller) superviseClose(sess *registry.Session) {
	<-sess.Done()
	c.Pending.FailSession(sess.ClientID)
	c.Registry.Remove(sess)
	c.reportSessionCount()
}

// runPingLoop sends a protocol-level ping every PingInterval until sess
// closes.
func (c *Controller) runPingLoop(sess *registry.Session) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			if err := sess.Ping(time.Now().Add(c.PingInterval / 2)); err != nil {
				_ = sess.Close()
				return
			}
		}
	}
}

// runInboundPump loops reading frames from sess until it closes or errors,
// routing each to the correlator or the push sink and refreshing lastSeen.
func (c *Controller) runInboundPump(sess *registry.Session) {
	sess.SetPongHandler(func(string) error {
		sess.Touch()
		return nil
	})

	for {
		data, err := sess.ReadMessage()
		if err != nil {
			_ = sess.Close()
			return
		}
		sess.Touch()

		e, err := envelope.Decode(data)
		if err != nil {
			c.logWarn("dropped malformed frame", map[string]any{"clientId": sess.ClientID})
			continue
		}

		if e.IsResponse() {
			c.Pending.Complete(e.RequestID, correlator.Result{
				Payload:    e.Extra,
				Err:        e.Error,
				Suggestion: e.Suggestion,
			})
			continue
		}
		c.Push.HandlePush(sess.ClientID, e)
	}
}

func (c *Controller) reportSessionCount() {
	if c.Metrics != nil {
		c.Metrics.SetSessionsActive(c.Registry.Len())
	}
}

func (c *Controller) logInfo(msg string, fields map[string]any) {
	if c.Telemetry != nil {
		c.Telemetry.Info(msg, fields)
	}
}

func (c *Controller) logWarn(msg string, fields map[string]any) {
	if c.Telemetry != nil {
		c.Telemetry.Warn(msg, fields)
	}
}
