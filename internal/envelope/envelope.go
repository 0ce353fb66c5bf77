// Package envelope frames and parses the JSON messages exchanged between
// the broker and a world over its WebSocket session.
package envelope

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrMalformedFrame is returned by Decode when the input is not valid JSON
// or is missing a required field.
var ErrMalformedFrame = errors.New("envelope: malformed frame")

// knownKeys are the envelope's own fields. Everything else in a frame is
// payload data and is carried in Extra rather than these named fields.
var knownKeys = map[string]struct{}{
	"type": {}, "requestId": {}, "clientId": {}, "error": {}, "suggestion": {},
}

// Envelope is the wire message exchanged on the WebSocket connection.
// Request envelopes carry Type set to the operation name (e.g. "entity/get");
// response envelopes carry Type set to "<op>-result". Per spec.md §6 the
// request/response payload is not nested under its own key — its fields
// are spread directly at the envelope's top level alongside
// type/requestId/clientId (e.g. `{"type":"entity/get","requestId":R,
// "clientId":"W1","uuid":"Actor.abc"}`, and a reply
// `{"type":"entity/get-result","requestId":R,"data":{...}}`). Extra holds
// those spread fields, re-encoded as a JSON object, on both Encode and
// Decode.
type Envelope struct {
	Type       string
	RequestID  string
	ClientID   string
	Error      string
	Suggestion string
	// Extra is a JSON object whose keys are merged into the envelope's top
	// level on Encode, and the envelope's non-reserved keys collected back
	// into on Decode. May be nil.
	Extra json.RawMessage
}

// NewRequestID mints a fresh, unguessable request id.
func NewRequestID() string {
	return uuid.NewString()
}

// Encode serializes an Envelope to its wire form, spreading Extra's keys
// at the top level alongside type/requestId/clientId/error/suggestion.
func Encode(e Envelope) ([]byte, error) {
	out := map[string]json.RawMessage{}

	if len(e.Extra) > 0 {
		var extra map[string]json.RawMessage
		if err := json.Unmarshal(e.Extra, &extra); err != nil {
			return nil, err
		}
		for k, v := range extra {
			out[k] = v
		}
	}

	if err := setField(out, "type", e.Type); err != nil {
		return nil, err
	}
	if err := setField(out, "requestId", e.RequestID); err != nil {
		return nil, err
	}
	if e.ClientID != "" {
		if err := setField(out, "clientId", e.ClientID); err != nil {
			return nil, err
		}
	}
	if e.Error != "" {
		if err := setField(out, "error", e.Error); err != nil {
			return nil, err
		}
	}
	if e.Suggestion != "" {
		if err := setField(out, "suggestion", e.Suggestion); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

func setField(out map[string]json.RawMessage, key, val string) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	out[key] = b
	return nil
}

// Decode parses a wire frame into an Envelope. It fails with
// ErrMalformedFrame if the input is not valid JSON or lacks a type field.
// Every key besides type/requestId/clientId/error/suggestion is collected
// into Extra, re-encoded as a JSON object, so a caller can read the
// world's payload fields (e.g. "data") back out, or pass them through
// verbatim to an HTTP response body.
func Decode(data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, ErrMalformedFrame
	}

	var e Envelope
	if v, ok := raw["type"]; ok {
		_ = json.Unmarshal(v, &e.Type)
	}
	if e.Type == "" {
		return Envelope{}, ErrMalformedFrame
	}
	if v, ok := raw["requestId"]; ok {
		_ = json.Unmarshal(v, &e.RequestID)
	}
	if v, ok := raw["clientId"]; ok {
		_ = json.Unmarshal(v, &e.ClientID)
	}
	if v, ok := raw["error"]; ok {
		_ = json.Unmarshal(v, &e.Error)
	}
	if v, ok := raw["suggestion"]; ok {
		_ = json.Unmarshal(v, &e.Suggestion)
	}

	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if _, known := knownKeys[k]; known {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		b, err := json.Marshal(extra)
		if err != nil {
			return Envelope{}, ErrMalformedFrame
		}
		e.Extra = b
	}

	return e, nil
}

// IsResponse reports whether a decoded Envelope carries a requestId, and so
// should be routed to the correlator rather than treated as an unsolicited
// world-push event.
func (e Envelope) IsResponse() bool {
	return e.RequestID != ""
}

// HasError reports whether the envelope carries a world-reported error.
func (e Envelope) HasError() bool {
	return e.Error != ""
}
