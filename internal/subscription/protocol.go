package subscription

import "encoding/json"

// Subprotocol is the legacy subscriptions-transport-ws protocol spoken by
// Ephyr servers.
const Subprotocol = "graphql-ws"

// Message types of the graphql-ws protocol.
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgKeepAlive           = "ka"
	msgConnectionTerminate = "connection_terminate"
	msgStart               = "start"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
	msgStop                = "stop"
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// payloadMessage extracts a human readable message from an error or
// connection_error payload, which servers send either as an object, a list
// of objects or a bare string.
func payloadMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "no details"
	}
	var one struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &one); err == nil && one.Message != "" {
		return one.Message
	}
	var many []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0].Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}
