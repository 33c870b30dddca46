package presence

// Asset keys must exist on the remote application registration.
const (
	LargeImageKey = "opencode"
	SmallImageKey = "terminal"

	ButtonLabel = "Get OpenCode"
	ButtonURL   = "https://opencode.ai"
)

// Activity is the outbound presence payload. Field names follow the
// remote SET_ACTIVITY schema.
type Activity struct {
	Details    string      `json:"details"`
	State      string      `json:"state"`
	Assets     Assets      `json:"assets"`
	Buttons    []Button    `json:"buttons,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
}

type Assets struct {
	LargeImage string `json:"large_image"`
	LargeText  string `json:"large_text"`
	SmallImage string `json:"small_image"`
	SmallText  string `json:"small_text"`
}

type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Timestamps.Start is unix milliseconds.
type Timestamps struct {
	Start int64 `json:"start"`
}

// BuildActivity converts a snapshot into the payload. The start
// timestamp is copied from the snapshot, never recomputed, so the
// remote elapsed timer survives reconnects.
func BuildActivity(s Snapshot) Activity {
	a := Activity{
		Details: s.Details(),
		State:   s.Kind.StatusLabel(),
		Assets: Assets{
			LargeImage: LargeImageKey,
			LargeText:  AppName,
			SmallImage: SmallImageKey,
			SmallText:  s.Kind.StatusLabel(),
		},
		Buttons: []Button{{Label: ButtonLabel, URL: ButtonURL}},
	}
	if s.HasSession() {
		a.Timestamps = &Timestamps{Start: s.SessionStart.UnixMilli()}
	}
	return a
}
