package presence

import "time"

// EventKind names a host lifecycle notification.
type EventKind string

const (
	EventSessionCreated     EventKind = "session.created"
	EventSessionStatus      EventKind = "session.status"
	EventSessionIdle        EventKind = "session.idle"
	EventSessionDeleted     EventKind = "session.deleted"
	EventChatMessage        EventKind = "chat.message"
	EventChatParams         EventKind = "chat.params"
	EventMessagePartUpdated EventKind = "message.part.updated"
	EventToolBefore         EventKind = "tool.execute.before"
	EventToolAfter          EventKind = "tool.execute.after"
)

// Event is a host notification reduced to the fields the tracker reads.
// Busy is only meaningful for EventSessionStatus; Model only for the
// chat events.
type Event struct {
	Kind  EventKind
	Busy  bool
	Model string
}

// Tracker folds host events into the current Snapshot. It is not safe
// for concurrent use; the router owns it.
type Tracker struct {
	current      Snapshot
	startSession func() time.Time
}

// NewTracker returns a tracker in the idle, no-session state.
// startSession stamps the start instant of each new session.
func NewTracker(startSession func() time.Time) *Tracker {
	if startSession == nil {
		startSession = time.Now
	}
	return &Tracker{
		current:      IdleSnapshot(),
		startSession: startSession,
	}
}

// Current returns the stored snapshot.
func (t *Tracker) Current() Snapshot {
	return t.current
}

// Apply computes the next snapshot for ev. changed is false when the
// result equals the stored snapshot, in which case nothing should be
// published.
func (t *Tracker) Apply(ev Event) (snap Snapshot, changed bool) {
	next := t.current

	switch ev.Kind {
	case EventSessionCreated:
		next.Kind = KindCoding
		next.SessionStart = t.startSession()
	case EventChatMessage, EventMessagePartUpdated, EventToolAfter:
		next.Kind = KindThinking
	case EventToolBefore:
		next.Kind = KindCoding
	case EventSessionStatus:
		if ev.Busy {
			next.Kind = KindCoding
		} else {
			next.Kind = KindWaitingForInput
		}
	case EventSessionIdle:
		next.Kind = KindIdle
	case EventSessionDeleted:
		next = IdleSnapshot()
	case EventChatParams:
	default:
		return t.current, false
	}

	if ev.Kind == EventChatMessage || ev.Kind == EventChatParams {
		if model := NormalizeModel(ev.Model); model != "" && model != next.Label {
			next.Label = model
		}
	}

	if next.Equal(t.current) {
		return t.current, false
	}
	t.current = next
	return next, true
}
