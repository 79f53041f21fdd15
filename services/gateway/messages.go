package gateway

import "encoding/json"

// MessageType names a frame on the backend connection.
type MessageType string

const (
	// backend -> bridge
	TypeRegister MessageType = "register"
	TypeResult   MessageType = "result"

	// bridge -> backend
	TypeRegistered MessageType = "registered"
	TypeCommand    MessageType = "command"
	TypeEvicted    MessageType = "evicted"
	TypeError      MessageType = "error"

	// either direction
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the JSON frame exchanged with a backend.
type Message struct {
	Type         MessageType     `json:"type"`
	ID           string          `json:"id,omitempty"`
	ResourceKey  string          `json:"resource_key,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Command      string          `json:"command,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type registerFrame struct {
	ResourceKey string `validate:"required,max=256"`
}

// Command is one request forwarded to a backend.
type Command struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
