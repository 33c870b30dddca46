package presence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"presenced/internal/clock"
)

type fakeSender struct {
	ready    bool
	sent     []Activity
	clears   int
	sendErr  error
	clearErr error
}

func (f *fakeSender) Ready() bool { return f.ready }

func (f *fakeSender) SetActivity(ctx context.Context, a Activity) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeSender) ClearActivity(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.clears++
	return nil
}

func newTestPublisher(sender *fakeSender) *Publisher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(sender, clock.NewFake(t0), logger, time.Second)
}

func TestBuildActivity_WithSession(t *testing.T) {
	a := BuildActivity(Snapshot{Kind: KindThinking, Label: "gpt-4o", SessionStart: t0})

	if a.Details != "Using gpt-4o" {
		t.Errorf("unexpected details %q", a.Details)
	}
	if a.State != "Thinking" {
		t.Errorf("unexpected state %q", a.State)
	}
	if a.Assets.LargeImage != LargeImageKey || a.Assets.SmallImage != SmallImageKey {
		t.Errorf("unexpected assets %+v", a.Assets)
	}
	if len(a.Buttons) != 1 || a.Buttons[0].URL != ButtonURL {
		t.Errorf("unexpected buttons %+v", a.Buttons)
	}
	if a.Timestamps == nil || a.Timestamps.Start != t0.UnixMilli() {
		t.Errorf("expected start %d, got %+v", t0.UnixMilli(), a.Timestamps)
	}
}

func TestBuildActivity_WithoutSession(t *testing.T) {
	a := BuildActivity(IdleSnapshot())
	if a.Details != "Using "+AppName {
		t.Errorf("expected app name fallback, got %q", a.Details)
	}
	if a.Timestamps != nil {
		t.Error("expected no timestamps without a session")
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["timestamps"]; ok {
		t.Error("timestamps key should be omitted")
	}
	for _, key := range []string{"details", "state", "assets", "buttons"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}

func TestPublisher_NotReadyKeepsPending(t *testing.T) {
	sender := &fakeSender{}
	pub := newTestPublisher(sender)

	snap := Snapshot{Kind: KindCoding, SessionStart: t0}
	if pub.Publish(context.Background(), snap) {
		t.Fatal("publish should fail while not ready")
	}
	if len(sender.sent) != 0 {
		t.Fatal("nothing should be sent while not ready")
	}
	pending, ok := pub.Pending()
	if !ok || !pending.Equal(snap) {
		t.Fatalf("expected pending %+v, got %+v (ok=%v)", snap, pending, ok)
	}

	sender.ready = true
	if !pub.Replay(context.Background()) {
		t.Fatal("replay should succeed once ready")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	if _, ok := pub.Pending(); ok {
		t.Error("pending should be cleared after delivery")
	}
}

func TestPublisher_ReplayKeepsSessionStart(t *testing.T) {
	sender := &fakeSender{ready: true}
	pub := newTestPublisher(sender)

	pub.Publish(context.Background(), Snapshot{Kind: KindCoding, SessionStart: t0})
	// Connection dropped and came back.
	pub.Replay(context.Background())

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.sent))
	}
	for i, a := range sender.sent {
		if a.Timestamps == nil || a.Timestamps.Start != t0.UnixMilli() {
			t.Errorf("send %d: expected start %d, got %+v", i, t0.UnixMilli(), a.Timestamps)
		}
	}
}

func TestPublisher_SendFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{ready: true, sendErr: errors.New("pipe closed")}
	pub := newTestPublisher(sender)

	if pub.Publish(context.Background(), Snapshot{Kind: KindIdle}) {
		t.Error("expected failure indicator")
	}
	if _, ok := pub.Pending(); !ok {
		t.Error("failed snapshot should stay pending")
	}
}

func TestPublisher_OnPublish(t *testing.T) {
	sender := &fakeSender{ready: true}
	pub := newTestPublisher(sender)

	var seen []Snapshot
	pub.OnPublish(func(s Snapshot, a Activity) { seen = append(seen, s) })

	pub.Publish(context.Background(), Snapshot{Kind: KindThinking})
	sender.ready = false
	pub.Publish(context.Background(), Snapshot{Kind: KindCoding})

	if len(seen) != 1 || seen[0].Kind != KindThinking {
		t.Errorf("observer should only see acknowledged payloads, got %+v", seen)
	}
}

func TestPublisher_Clear(t *testing.T) {
	sender := &fakeSender{}
	pub := newTestPublisher(sender)

	if pub.Clear(context.Background()) {
		t.Error("clear should be a no-op while not ready")
	}

	sender.ready = true
	pub.Publish(context.Background(), Snapshot{Kind: KindCoding})
	if !pub.Clear(context.Background()) {
		t.Fatal("expected clear to succeed")
	}
	if sender.clears != 1 {
		t.Errorf("expected 1 clear, got %d", sender.clears)
	}
	if pub.Replay(context.Background()) {
		t.Error("replay after clear should not restore presence")
	}

	sender.clearErr = errors.New("gone")
	if pub.Clear(context.Background()) {
		t.Error("expected failure indicator")
	}
}

func TestPublisher_StartSessionUsesClock(t *testing.T) {
	pub := newTestPublisher(&fakeSender{})
	if got := pub.StartSession(); !got.Equal(t0) {
		t.Errorf("expected %v, got %v", t0, got)
	}
}
