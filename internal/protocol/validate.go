package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"presenced/internal/presence"

	"github.com/tidwall/gjson"
)

// validHostTypes maps accepted host message types to tracker events.
var validHostTypes = map[string]presence.EventKind{
	TypeSessionCreated:     presence.EventSessionCreated,
	TypeSessionStatus:      presence.EventSessionStatus,
	TypeSessionIdle:        presence.EventSessionIdle,
	TypeSessionDeleted:     presence.EventSessionDeleted,
	TypeChatMessage:        presence.EventChatMessage,
	TypeChatParams:         presence.EventChatParams,
	TypeMessagePartUpdated: presence.EventMessagePartUpdated,
	TypeToolBefore:         presence.EventToolBefore,
	TypeToolAfter:          presence.EventToolAfter,
}

// Payload paths searched, in order, for each extracted field.
var (
	statusPaths       = []string{"status.type", "properties.status.type", "status"}
	chatMessageModels = []string{"model.modelID", "modelID", "message.modelID"}
	chatParamsModels  = []string{"model.id", "model.modelID", "modelID"}
)

// ValidateHostMessage validates a raw JSON message from the host.
// Returns the parsed Message and any validation error. The payload is
// optional but must be an object when present.
func ValidateHostMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if _, ok := validHostTypes[msg.Type]; !ok {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		msg.Payload = json.RawMessage(`{}`)
	}
	if !gjson.ParseBytes(msg.Payload).IsObject() {
		return nil, fmt.Errorf("payload for %s must be an object", msg.Type)
	}

	if msg.Type == TypeSessionStatus {
		if _, ok := busyFlag(msg.Payload); !ok {
			return nil, fmt.Errorf("missing status in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// DecodeEvent reduces a validated message to a tracker event.
func DecodeEvent(msg *Message) (presence.Event, error) {
	kind, ok := validHostTypes[msg.Type]
	if !ok {
		return presence.Event{}, fmt.Errorf("unknown message type: %s", msg.Type)
	}
	ev := presence.Event{Kind: kind}

	switch msg.Type {
	case TypeSessionStatus:
		busy, ok := busyFlag(msg.Payload)
		if !ok {
			return presence.Event{}, fmt.Errorf("missing status in %s payload", msg.Type)
		}
		ev.Busy = busy
	case TypeChatMessage:
		ev.Model = firstString(msg.Payload, chatMessageModels)
	case TypeChatParams:
		ev.Model = firstString(msg.Payload, chatParamsModels)
	}
	return ev, nil
}

// ParseHostMessage validates raw and decodes it in one step.
func ParseHostMessage(raw []byte) (presence.Event, error) {
	msg, err := ValidateHostMessage(raw)
	if err != nil {
		return presence.Event{}, err
	}
	return DecodeEvent(msg)
}

// busyFlag reads the session status. "busy" and "retry" count as busy.
// A boolean "busy" field is accepted as a fallback.
func busyFlag(payload []byte) (busy bool, ok bool) {
	for _, path := range statusPaths {
		v := gjson.GetBytes(payload, path)
		if v.Type != gjson.String {
			continue
		}
		switch v.String() {
		case "busy", "retry":
			return true, true
		case "idle":
			return false, true
		}
	}
	if v := gjson.GetBytes(payload, "busy"); v.IsBool() {
		return v.Bool(), true
	}
	return false, false
}

func firstString(payload []byte, paths []string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(payload, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// NewPresenceUpdate builds the observer message for a snapshot.
func NewPresenceUpdate(snap presence.Snapshot, connection string, attempts int) (*Message, error) {
	p := PresenceUpdatePayload{
		Kind:       string(snap.Kind),
		Label:      snap.Label,
		Details:    snap.Details(),
		State:      snap.Kind.StatusLabel(),
		Connection: connection,
		Attempts:   attempts,
	}
	if snap.HasSession() {
		p.SessionStart = snap.SessionStart.UTC().Format(time.RFC3339Nano)
	}
	return NewMessage(TypePresenceUpdate, p)
}
