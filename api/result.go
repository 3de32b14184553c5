package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is the body of every remote store call.
type Request struct {
	Version string          `json:"version"` // Must be "2.0"
	Args    json.RawMessage `json:"args,omitempty"`
}

// Result is a remote response decoded at the call boundary.
// Exactly one of Value and Err is meaningful: Err is set when the store
// answered with an {"Err": ...} payload.
type Result struct {
	Value json.RawMessage
	Err   string
	IsErr bool
}

// Envelope is the wire form of an Ok/Err result.
type Envelope struct {
	Ok  json.RawMessage `json:"Ok,omitempty"`
	Err json.RawMessage `json:"Err,omitempty"`
}

func Ok(v interface{}) Envelope {
	b, err := json.Marshal(v)
	if err != nil {
		return Err(fmt.Sprintf("failed to encode result: %v", err))
	}
	return Envelope{Ok: b}
}

func Err(msg string) Envelope {
	b, _ := json.Marshal(msg)
	return Envelope{Err: b}
}

// DecodeResult accepts either a bare JSON value or an {"Ok": v} / {"Err": msg}
// wrapper and returns it as a single Result.
func DecodeResult(body []byte) (Result, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Result{}, fmt.Errorf("empty response body")
	}
	if !json.Valid(body) {
		return Result{}, fmt.Errorf("response is not valid JSON: %.64q", body)
	}
	if body[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err == nil && len(fields) == 1 {
			if v, ok := fields["Ok"]; ok {
				return Result{Value: v}, nil
			}
			if v, ok := fields["Err"]; ok {
				return Result{Err: errText(v), IsErr: true}, nil
			}
		}
	}
	return Result{Value: json.RawMessage(body)}, nil
}

// errText renders an Err payload; the store sends strings but other shapes
// are kept verbatim.
func errText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// Decode unmarshals the Ok value into v.
func (r Result) Decode(v interface{}) error {
	if r.IsErr {
		return fmt.Errorf("cannot decode an error result: %s", r.Err)
	}
	if len(r.Value) == 0 {
		return fmt.Errorf("empty result value")
	}
	return json.Unmarshal(r.Value, v)
}
