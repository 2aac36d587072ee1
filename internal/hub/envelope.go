// Package hub implements the message hub (component E): per-connection
// dispatch, the anti-echo hook, and the send/broadcast primitives every
// other component's events flow through on their way to a connection.
package hub

import (
	"encoding/json"
	"time"
)

// envelope is the minimal shape every inbound frame must satisfy; callers
// re-decode Raw into a typed struct once Type is known.
type envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, err
	}
	e.Raw = data
	return e, nil
}

// outbound wraps any payload with its type tag for the wire.
type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"-"`
}

// MarshalJSON flattens Data's fields alongside "type" so outbound frames
// match the canonical `{type, ...}` shape rather than nesting under "data".
func (o outbound) MarshalJSON() ([]byte, error) {
	fields, err := json.Marshal(o.Data)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(o.Type)
	m["type"] = typeJSON
	return json.Marshal(m)
}

func frame(msgType string, data interface{}) outbound {
	return outbound{Type: msgType, Data: data}
}

// nowISO formats the current time the way every outbound timestamp field
// is serialized.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
