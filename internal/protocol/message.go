package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for every host event and observer message.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → observer message types.
const (
	TypePresenceUpdate = "presence.update"
	TypeError          = "error"
)

// Host → server message types.
const (
	TypeSessionCreated     = "session.created"
	TypeSessionStatus      = "session.status"
	TypeSessionIdle        = "session.idle"
	TypeSessionDeleted     = "session.deleted"
	TypeChatMessage        = "chat.message"
	TypeChatParams         = "chat.params"
	TypeMessagePartUpdated = "message.part.updated"
	TypeToolBefore         = "tool.execute.before"
	TypeToolAfter          = "tool.execute.after"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrUnavailable    = "UNAVAILABLE"
)

// PresenceUpdatePayload mirrors the engine status after a change.
type PresenceUpdatePayload struct {
	Kind         string `json:"kind"`
	Label        string `json:"label,omitempty"`
	Details      string `json:"details"`
	State        string `json:"state"`
	SessionStart string `json:"sessionStart,omitempty"`
	Connection   string `json:"connection"`
	Attempts     int    `json:"attempts"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
