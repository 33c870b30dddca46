package presence

import "time"

// ActivityKind is the coarse state shown on the remote presence.
type ActivityKind string

const (
	KindIdle            ActivityKind = "idle"
	KindCoding          ActivityKind = "coding"
	KindThinking        ActivityKind = "thinking"
	KindWaitingForInput ActivityKind = "waiting_for_input"
)

// AppName is shown in the details line when no model label is known.
const AppName = "OpenCode"

const detailsPrefix = "Using "

// StatusLabel returns the fixed state line for the kind.
func (k ActivityKind) StatusLabel() string {
	switch k {
	case KindCoding:
		return "Writing code"
	case KindThinking:
		return "Thinking"
	case KindWaitingForInput:
		return "Waiting for input"
	default:
		return "Idle"
	}
}

// Snapshot is the presence state at one point in time. A zero
// SessionStart means no session is active.
type Snapshot struct {
	Kind         ActivityKind `json:"kind"`
	Label        string       `json:"label,omitempty"`
	SessionStart time.Time    `json:"sessionStart,omitzero"`
}

// IdleSnapshot is the state before any session and after one ends.
func IdleSnapshot() Snapshot {
	return Snapshot{Kind: KindIdle}
}

// HasSession reports whether a session start instant is recorded.
func (s Snapshot) HasSession() bool {
	return !s.SessionStart.IsZero()
}

// Details returns the details line: the model label when known, the
// application name otherwise.
func (s Snapshot) Details() string {
	if s.Label == "" {
		return detailsPrefix + AppName
	}
	return detailsPrefix + s.Label
}

// Equal compares snapshots by value.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Kind == other.Kind &&
		s.Label == other.Label &&
		s.SessionStart.Equal(other.SessionStart)
}
