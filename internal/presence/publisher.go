package presence

import (
	"context"
	"log/slog"
	"time"

	"presenced/internal/clock"
)

// Sender delivers payloads to the remote service. SetActivity and
// ClearActivity must only be called while Ready reports true.
type Sender interface {
	Ready() bool
	SetActivity(ctx context.Context, a Activity) error
	ClearActivity(ctx context.Context) error
}

// PublishFunc observes every payload the remote service acknowledged.
type PublishFunc func(snap Snapshot, activity Activity)

// Publisher turns snapshots into outbound payloads. It keeps the latest
// snapshot so it can be replayed when the connection becomes ready.
// Not safe for concurrent use; the router owns it.
type Publisher struct {
	sender      Sender
	clock       clock.Clock
	logger      *slog.Logger
	sendTimeout time.Duration

	latest    Snapshot
	hasLatest bool
	pending   bool

	onPublish PublishFunc
}

// NewPublisher creates a publisher. A zero sendTimeout leaves the
// caller's context deadline in charge.
func NewPublisher(sender Sender, clk clock.Clock, logger *slog.Logger, sendTimeout time.Duration) *Publisher {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sender:      sender,
		clock:       clk,
		logger:      logger,
		sendTimeout: sendTimeout,
	}
}

// OnPublish registers the observer for acknowledged payloads.
func (p *Publisher) OnPublish(fn PublishFunc) {
	p.onPublish = fn
}

// StartSession stamps the start instant for a new session. It does not
// publish anything.
func (p *Publisher) StartSession() time.Time {
	return p.clock.Now()
}

// Publish sends snap when the connection is ready. Otherwise snap is
// kept as pending and sent by the next Replay. Failures are logged.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) bool {
	p.latest = snap
	p.hasLatest = true
	p.pending = true

	if !p.sender.Ready() {
		p.logger.Debug("presence pending until connected", "kind", snap.Kind)
		return false
	}
	return p.send(ctx, snap)
}

// Replay resends the latest snapshot, with its original session start.
func (p *Publisher) Replay(ctx context.Context) bool {
	if !p.hasLatest || !p.sender.Ready() {
		return false
	}
	p.logger.Debug("replaying presence", "kind", p.latest.Kind, "pending", p.pending)
	return p.send(ctx, p.latest)
}

// Pending returns the snapshot that has not been acknowledged yet.
func (p *Publisher) Pending() (Snapshot, bool) {
	return p.latest, p.hasLatest && p.pending
}

// Clear removes the displayed presence and forgets the latest snapshot
// so a later Replay does not restore it.
func (p *Publisher) Clear(ctx context.Context) bool {
	p.hasLatest = false
	p.pending = false

	if !p.sender.Ready() {
		return false
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.sender.ClearActivity(ctx); err != nil {
		p.logger.Error("failed to clear presence", "error", err)
		return false
	}
	return true
}

func (p *Publisher) send(ctx context.Context, snap Snapshot) bool {
	activity := BuildActivity(snap)

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.sender.SetActivity(ctx, activity); err != nil {
		p.logger.Error("failed to set presence", "error", err, "kind", snap.Kind)
		return false
	}
	p.pending = false

	p.logger.Debug("presence updated",
		"details", activity.Details,
		"state", activity.State,
		"session", snap.HasSession(),
	)
	if p.onPublish != nil {
		p.onPublish(snap, activity)
	}
	return true
}

func (p *Publisher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.sendTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.sendTimeout)
}
