package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"presenced/internal/clock"
	"presenced/internal/connection"
	"presenced/internal/presence"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testInterval = 15 * time.Second

type fakeNet struct {
	mu         sync.Mutex
	failFirst  int
	logins     int
	transports []*fakeTransport
}

func (n *fakeNet) factory(appID string, events connection.Events) (connection.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &fakeTransport{net: n, events: events}
	n.transports = append(n.transports, t)
	return t, nil
}

func (n *fakeNet) transport(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.transports) {
		return nil
	}
	return n.transports[i]
}

type fakeTransport struct {
	net    *fakeNet
	events connection.Events

	mu        sync.Mutex
	sent      []presence.Activity
	clears    int
	destroyed bool
}

func (t *fakeTransport) Login(ctx context.Context) error {
	t.net.mu.Lock()
	t.net.logins++
	fail := t.net.logins <= t.net.failFirst
	t.net.mu.Unlock()
	if fail {
		return fmt.Errorf("dial: %w", connection.ErrServiceUnavailable)
	}
	t.events.Ready()
	return nil
}

func (t *fakeTransport) SetActivity(ctx context.Context, a presence.Activity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, a)
	return nil
}

func (t *fakeTransport) ClearActivity(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clears++
	return nil
}

func (t *fakeTransport) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyed = true
	return nil
}

func (t *fakeTransport) activities() []presence.Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]presence.Activity(nil), t.sent...)
}

type testRouter struct {
	*Router
	net    *fakeNet
	clock  *clock.Fake
	cancel context.CancelFunc
}

func startRouter(t *testing.T, net *fakeNet, enabled bool) *testRouter {
	t.Helper()
	clk := clock.NewFake(t0)
	r := New(Options{
		Connection: connection.Config{
			Enabled:       enabled,
			AppID:         "test-app",
			RetryInterval: testInterval,
			MaxRetries:    5,
		},
		NewTransport: net.factory,
		Clock:        clk,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Go:           func(fn func()) { fn() },
		SendTimeout:  time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return &testRouter{Router: r, net: net, clock: clk, cancel: cancel}
}

func (tr *testRouter) status(t *testing.T) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return s
}

func (tr *testRouter) waitConnection(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.status(t).Connection == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection never reached %s", want)
}

func (tr *testRouter) deliver(t *testing.T, kinds ...presence.EventKind) {
	t.Helper()
	for _, k := range kinds {
		if !tr.Deliver(presence.Event{Kind: k}) {
			t.Fatalf("deliver %s rejected", k)
		}
	}
	// Status goes through the same queue, so it returns after every
	// delivered event was handled.
	tr.status(t)
}

func TestRouter_SessionLifecyclePublishesThreeTimes(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	tr.deliver(t,
		presence.EventSessionCreated,
		presence.EventToolBefore,
		presence.EventMessagePartUpdated,
		presence.EventToolAfter,
		presence.EventSessionDeleted,
	)

	sent := tr.net.transport(0).activities()
	if len(sent) != 3 {
		t.Fatalf("expected 3 publishes, got %d: %+v", len(sent), sent)
	}
	wantStates := []string{"Writing code", "Thinking", "Idle"}
	for i, want := range wantStates {
		if sent[i].State != want {
			t.Errorf("publish %d: expected state %q, got %q", i, want, sent[i].State)
		}
	}
	if sent[0].Timestamps == nil || sent[0].Timestamps.Start != t0.UnixMilli() {
		t.Errorf("first publish should carry session start, got %+v", sent[0].Timestamps)
	}
	last := sent[2]
	if last.Timestamps != nil {
		t.Error("last publish should have no timestamps")
	}
	if last.Details != "Using "+presence.AppName {
		t.Errorf("last publish should have no label, got %q", last.Details)
	}
}

func TestRouter_DuplicateEventPublishesOnce(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	tr.deliver(t, presence.EventSessionCreated, presence.EventChatMessage, presence.EventChatMessage)

	if got := len(tr.net.transport(0).activities()); got != 2 {
		t.Errorf("expected 2 publishes, got %d", got)
	}
}

func TestRouter_SessionStartSurvivesReconnect(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	tr.deliver(t, presence.EventSessionCreated)

	first := tr.net.transport(0)
	first.events.Disconnected(errors.New("pipe closed"))
	tr.waitConnection(t, "disconnected")

	tr.clock.Advance(testInterval)
	tr.waitConnection(t, "ready")

	second := tr.net.transport(1)
	if second == nil {
		t.Fatal("expected a second transport")
	}
	sent := second.activities()
	if len(sent) != 1 {
		t.Fatalf("expected replay on reconnect, got %d sends", len(sent))
	}
	if sent[0].Timestamps == nil || sent[0].Timestamps.Start != t0.UnixMilli() {
		t.Errorf("replay should keep start %d, got %+v", t0.UnixMilli(), sent[0].Timestamps)
	}
}

func TestRouter_PendingReplayedWhenReady(t *testing.T) {
	tr := startRouter(t, &fakeNet{failFirst: 1}, true)
	tr.waitConnection(t, "disconnected")

	tr.deliver(t, presence.EventSessionCreated, presence.EventChatMessage)

	tr.clock.Advance(testInterval)
	tr.waitConnection(t, "ready")

	sent := tr.net.transport(1).activities()
	if len(sent) != 1 {
		t.Fatalf("expected only the latest snapshot, got %d sends", len(sent))
	}
	if sent[0].State != "Thinking" {
		t.Errorf("expected latest state Thinking, got %q", sent[0].State)
	}
}

func TestRouter_DisabledNeverConnects(t *testing.T) {
	net := &fakeNet{}
	tr := startRouter(t, net, false)

	tr.deliver(t, presence.EventSessionCreated)

	s := tr.status(t)
	if s.Connection != "disconnected" || s.Enabled {
		t.Errorf("unexpected status %+v", s)
	}
	if net.transport(0) != nil {
		t.Error("disabled router must not create a transport")
	}
	if tr.clock.Armed() != 0 {
		t.Errorf("expected no timers, got %d", tr.clock.Armed())
	}
	if s.Snapshot.Kind != presence.KindCoding {
		t.Errorf("tracker should still follow events, got %s", s.Snapshot.Kind)
	}
}

func TestRouter_Subscribe(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	var mu sync.Mutex
	var seen []Status
	tr.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.deliver(t, presence.EventSessionCreated)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(seen))
	}
	if seen[0].Snapshot.Kind != presence.KindCoding || seen[0].State != "Writing code" {
		t.Errorf("unexpected status %+v", seen[0])
	}
}

func TestRouter_ClearRemovesPresence(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	tr.deliver(t, presence.EventSessionCreated)
	tr.Clear()
	tr.status(t)

	first := tr.net.transport(0)
	first.mu.Lock()
	clears := first.clears
	first.mu.Unlock()
	if clears != 1 {
		t.Errorf("expected 1 clear, got %d", clears)
	}
}

func TestRouter_ShutdownDisconnects(t *testing.T) {
	tr := startRouter(t, &fakeNet{}, true)
	tr.waitConnection(t, "ready")

	tr.cancel()
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}

	first := tr.net.transport(0)
	first.mu.Lock()
	clears, destroyed := first.clears, first.destroyed
	first.mu.Unlock()
	if clears != 1 || !destroyed {
		t.Errorf("expected clear and destroy on shutdown, got clears=%d destroyed=%v", clears, destroyed)
	}

	if tr.Deliver(presence.Event{Kind: presence.EventSessionIdle}) {
		t.Error("deliver after shutdown should be rejected")
	}
	if _, err := tr.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
