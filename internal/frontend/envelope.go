package frontend

import "encoding/json"

type errorOut struct {
	Message string `json:"message"`
}

// wireConn is the connection handle the handshake writes replies to; the
// real implementation is *wsConn, a thin wrapper over *websocket.Conn.
type wireConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// writeJSON flattens data's fields alongside a "type" tag, matching the
// canonical `{type, ...}` outbound frame shape.
func writeJSON(conn wireConn, msgType string, data interface{}) {
	fields, err := json.Marshal(data)
	if err != nil {
		return
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return
	}
	typeJSON, _ := json.Marshal(msgType)
	m["type"] = typeJSON
	_ = conn.WriteJSON(m)
}
