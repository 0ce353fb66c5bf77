package dispatch

import (
	"fmt"
	"strconv"
)

// Source names where a parameter may be read from.
type Source int

const (
	SourceQuery Source = iota
	SourceBody
	SourceQueryOrBody
)

// Kind names the strict coercion applied to an extracted parameter.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindObject
)

// ParamSpec describes one request parameter the dispatcher extracts before
// building the outbound envelope payload.
type ParamSpec struct {
	Name   string
	Source Source
	Type   Kind
}

// MissingParameterError is returned when a required param is absent.
type MissingParameterError struct{ Name string }

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// TypeMismatchError is returned when a present param fails strict coercion.
type TypeMismatchError struct {
	Name string
	Want Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %q is not of the expected type", e.Name)
}

// extractParams walks required then optional specs, reading each from
// query and/or body per its Source, coercing per its Type. Required params
// missing or mistyped abort immediately; absent optionals are simply
// omitted from the result.
func extractParams(query map[string]string, body map[string]any, required, optional []ParamSpec) (map[string]any, error) {
	out := map[string]any{}

	for _, spec := range required {
		raw, found := lookup(spec, query, body)
		if !found {
			return nil, &MissingParameterError{Name: spec.Name}
		}
		coerced, ok := coerce(raw, spec.Type)
		if !ok {
			return nil, &TypeMismatchError{Name: spec.Name, Want: spec.Type}
		}
		out[spec.Name] = coerced
	}

	for _, spec := range optional {
		raw, found := lookup(spec, query, body)
		if !found {
			continue
		}
		coerced, ok := coerce(raw, spec.Type)
		if !ok {
			return nil, &TypeMismatchError{Name: spec.Name, Want: spec.Type}
		}
		out[spec.Name] = coerced
	}

	return out, nil
}

func lookup(spec ParamSpec, query map[string]string, body map[string]any) (any, bool) {
	switch spec.Source {
	case SourceQuery:
		v, ok := query[spec.Name]
		if !ok {
			return nil, false
		}
		return v, true
	case SourceBody:
		v, ok := body[spec.Name]
		return v, ok
	case SourceQueryOrBody:
		if v, ok := query[spec.Name]; ok {
			return v, true
		}
		v, ok := body[spec.Name]
		return v, ok
	default:
		return nil, false
	}
}

// coerce applies strict type coercion. A string value is parsed into a
// number or boolean Kind whether it came from the query or from the JSON
// body (a body string "5" for a number is accepted as 5). Other body values
// arrive already typed from JSON decoding and are checked, not converted.
func coerce(raw any, kind Kind) (any, bool) {
	switch kind {
	case KindString:
		s, ok := raw.(string)
		return s, ok
	case KindNumber:
		switch v := raw.(type) {
		case float64:
			return v, true
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, false
			}
			return n, true
		default:
			return nil, false
		}
	case KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, false
			}
			return b, true
		default:
			return nil, false
		}
	case KindObject:
		m, ok := raw.(map[string]any)
		return m, ok
	default:
		return nil, false
	}
}
