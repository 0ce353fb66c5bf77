// Package dispatch implements the single parameterized HTTP-to-WebSocket
// helper every REST endpoint is built from.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"worldbroker-go/internal/correlator"
	"worldbroker-go/internal/envelope"
	"worldbroker-go/internal/registry"
)

// Telemetry is the narrow logging contract the dispatcher depends on. It is
// satisfied by internal/telemetry.Logger; kept as a local interface so this
// package stays decoupled from the telemetry implementation.
type Telemetry interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// MetricsSink records per-dispatch outcomes for observability. Implemented
// by internal/telemetry's Prometheus-backed recorder; a nil MetricsSink on
// a Dispatcher disables recording.
type MetricsSink interface {
	ObserveDispatch(op, status string, d time.Duration)
}

// AuditSink records a settled request/response exchange: a world reply
// (success or world-reported error), or a session lost before the reply,
// recorded with ErrSessionLost's message and no result. Implemented by
// internal/audit.Journal; a nil AuditSink on a Dispatcher disables
// recording. Timed-out and cancelled exchanges are not recorded — in-flight
// requests are never persisted.
type AuditSink interface {
	RecordExchange(clientID, op, requestID string, request, result []byte, errMsg string)
}

// ValidationError is returned by a Config's Validate hook to reject a
// request with HTTP 400 and a caller-facing suggestion.
type ValidationError struct {
	Err        string
	Suggestion string
}

// Config describes one REST endpoint's shape: the outbound envelope's
// operation name, its parameter schema, and an optional semantic validator.
type Config struct {
	Op       string
	Required []ParamSpec
	Optional []ParamSpec
	Validate func(params map[string]any) *ValidationError
}

// Dispatcher wires the Registry and the Pending table into one reusable
// request/response cycle. One Dispatcher instance is shared by every route.
type Dispatcher struct {
	Registry       *registry.Registry
	Pending        *correlator.Table
	RequestTimeout time.Duration
	Telemetry      Telemetry
	Metrics        MetricsSink
	Audit          AuditSink
}

// New returns a Dispatcher with the given collaborators. requestTimeout is
// T_request, the deadline armed on every waiter.
func New(reg *registry.Registry, pending *correlator.Table, requestTimeout time.Duration) *Dispatcher {
	return &Dispatcher{Registry: reg, Pending: pending, RequestTimeout: requestTimeout}
}

// Handle returns an http.HandlerFunc implementing cfg against this
// Dispatcher's Registry and Pending table.
func (d *Dispatcher) Handle(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.serve(w, r, cfg)
	}
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, cfg Config) {
	started := time.Now()

	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	body := map[string]any{}
	if r.ContentLength != 0 && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			d.writeError(w, http.StatusBadRequest, "InvalidBody", "request body must be valid JSON", "")
			d.record(cfg.Op, "400", started)
			return
		}
	}

	params, err := extractParams(query, body, cfg.Required, cfg.Optional)
	if err != nil {
		switch e := err.(type) {
		case *MissingParameterError:
			d.writeError(w, http.StatusBadRequest, "MissingParameter", e.Error(), "")
		case *TypeMismatchError:
			d.writeError(w, http.StatusBadRequest, "TypeMismatch", e.Error(), "")
		default:
			d.writeError(w, http.StatusBadRequest, "InvalidParameter", err.Error(), "")
		}
		d.record(cfg.Op, "400", started)
		return
	}

	if cfg.Validate != nil {
		if verr := cfg.Validate(params); verr != nil {
			d.writeError(w, http.StatusBadRequest, verr.Err, verr.Err, verr.Suggestion)
			d.record(cfg.Op, "400", started)
			return
		}
	}

	clientID, _ := params["clientId"].(string)
	sess, ok := d.Registry.Get(clientID)
	if !ok {
		d.writeError(w, http.StatusNotFound, "WorldOffline", "target world is not connected", "")
		d.record(cfg.Op, "404", started)
		return
	}

	payload := map[string]any{}
	for k, v := range params {
		if k == "clientId" {
			continue
		}
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, "EncodeFailed", "failed to encode payload", "")
		d.record(cfg.Op, "500", started)
		return
	}

	requestID := envelope.NewRequestID()
	d.Pending.Register(requestID, sess.ClientID)

	frame, err := envelope.Encode(envelope.Envelope{
		Type:      cfg.Op,
		RequestID: requestID,
		ClientID:  clientID,
		Extra:     payloadJSON,
	})
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, "EncodeFailed", "failed to encode envelope", "")
		d.record(cfg.Op, "500", started)
		return
	}

	if err := sess.Send(frame); err != nil {
		d.Pending.Complete(requestID, correlator.Result{Err: "upstream send failed"})
		d.writeError(w, http.StatusBadGateway, "UpstreamSendFailed", "failed to forward request to world", "")
		d.record(cfg.Op, "502", started)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.RequestTimeout)
	defer cancel()

	result, err := d.Pending.Await(ctx, requestID)
	if err != nil {
		switch {
		case errors.Is(err, correlator.ErrTimeout):
			d.writeError(w, http.StatusGatewayTimeout, "UpstreamTimeout", "world did not reply in time", "")
			d.record(cfg.Op, "504", started)
		case errors.Is(err, correlator.ErrCancelled):
			// Caller disconnected; the waiter is already freed, nothing to write.
			d.record(cfg.Op, "cancelled", started)
		default:
			d.writeError(w, http.StatusBadGateway, "WorldDisconnected", "world session was lost", "")
			d.record(cfg.Op, "502", started)
		}
		return
	}

	if result.SessionLost {
		d.writeError(w, http.StatusBadGateway, "WorldDisconnected", "world session was lost", "")
		d.record(cfg.Op, "502", started)
		d.audit(clientID, cfg.Op, requestID, payloadJSON, nil, correlator.ErrSessionLost.Error())
		return
	}

	if result.Err != "" {
		d.writeError(w, http.StatusUnprocessableEntity, result.Err, result.Err, result.Suggestion)
		d.record(cfg.Op, "422", started)
		d.audit(clientID, cfg.Op, requestID, payloadJSON, result.Payload, result.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result.Payload) == 0 {
		_, _ = w.Write([]byte("{}"))
	} else {
		_, _ = w.Write(result.Payload)
	}
	d.record(cfg.Op, "200", started)
	d.audit(clientID, cfg.Op, requestID, payloadJSON, result.Payload, "")
}

func (d *Dispatcher) audit(clientID, op, requestID string, request, result []byte, errMsg string) {
	if d.Audit != nil {
		d.Audit.RecordExchange(clientID, op, requestID, request, result, errMsg)
	}
}

func (d *Dispatcher) record(op, status string, started time.Time) {
	if d.Metrics != nil {
		d.Metrics.ObserveDispatch(op, status, time.Since(started))
	}
}

func (d *Dispatcher) writeError(w http.ResponseWriter, status int, code, message, suggestion string) {
	if d.Telemetry != nil {
		d.Telemetry.Warn("dispatch rejected", map[string]any{"code": code, "status": status})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": message}
	if suggestion != "" {
		body["suggestion"] = suggestion
	}
	_ = json.NewEncoder(w).Encode(body)
}
