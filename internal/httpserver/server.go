// Package httpserver is the broker's HTTP routing table: a thin mapping of
// verb+path to the dispatcher-backed handlers, the WebSocket upgrade
// endpoint, and the out-of-core observability/debug surface. Per spec.md
// §1 this table is "the HTTP routing table itself (a trivial mapping of
// verb+path to a dispatcher invocation)" — intentionally out of the core's
// scope, structurally mirroring sudhirj-darkhold/internal/server.Handler().
package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"worldbroker-go/internal/audit"
	"worldbroker-go/internal/auth"
	"worldbroker-go/internal/dispatch"
	"worldbroker-go/internal/wsserver"
)

// MetricsHandler exposes the Prometheus /metrics endpoint, satisfied by
// internal/telemetry.Metrics.Handler.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server assembles every HTTP-visible surface of the broker.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	WS         *wsserver.Controller
	Auth       auth.CredentialProvider
	Audit      *audit.Journal
	Metrics    MetricsHandler
}

// Handler builds the http.Handler for the whole broker: the WebSocket
// upgrade endpoint, every REST route in dispatch.Routes(), /metrics,
// /debug/audit, /debug/sessions, and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.WS.HandleUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/debug/audit", s.handleDebugAudit)
	mux.HandleFunc("/debug/sessions", s.handleDebugSessions)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}

	// dispatch.Routes() keys are already "METHOD /path" patterns, the exact
	// syntax Go's net/http.ServeMux has matched on method+path since 1.22.
	for pattern, cfg := range dispatch.Routes() {
		mux.HandleFunc(pattern, s.requireAPIKey(s.Dispatcher.Handle(cfg)))
	}

	return mux
}

// requireAPIKey enforces the REST surface's API-key + quota gate (spec.md
// §6: "all endpoints require an API key header accepted by the auth
// adapter") before handing off to next.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "MissingAPIKey"})
			return
		}
		if s.Auth == nil {
			next(w, r)
			return
		}
		ok, err := s.Auth.CheckAndConsumeQuota(apiKey)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "AuthBackendUnavailable"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "QuotaExceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDebugAudit serves a clientId's settled-exchange tail, per
// SPEC_FULL.md's audit journal: GET /debug/audit?clientId=W1&limit=50.
func (s *Server) handleDebugAudit(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "MissingParameter"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := s.Audit.Tail(clientID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "InternalError"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDebugSessions serves a point-in-time snapshot of every connected
// world, per SPEC_FULL.md's registry section: GET /debug/sessions.
func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.WS.Registry.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
