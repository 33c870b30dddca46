package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"presenced/internal/clock"
	"presenced/internal/connection"
	"presenced/internal/presence"
)

const (
	defaultQueueSize       = 256
	defaultShutdownTimeout = 2 * time.Second
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("router stopped")

// Status is a point-in-time view of the engine.
type Status struct {
	Snapshot   presence.Snapshot `json:"snapshot"`
	Details    string            `json:"details"`
	State      string            `json:"state"`
	Connection string            `json:"connection"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"maxRetries"`
	Enabled    bool              `json:"enabled"`
}

// Options configures a Router.
type Options struct {
	Connection   connection.Config
	NewTransport connection.Factory
	Clock        clock.Clock
	Logger       *slog.Logger

	// Go runs blocking transport work. Defaults to a new goroutine.
	Go func(fn func())

	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	QueueSize       int
}

// Router serializes host events, transport notifications and retry
// timers onto the goroutine running Run. Every other method is safe to
// call from any goroutine.
type Router struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration
	enabled         bool

	queue chan func()
	done  chan struct{}
	once  sync.Once

	conn      *connection.Manager
	publisher *presence.Publisher
	tracker   *presence.Tracker

	subMu       sync.Mutex
	subscribers []func(Status)
}

// New wires the connection manager, publisher and tracker together.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}

	r := &Router{
		logger:          logger,
		shutdownTimeout: shutdown,
		enabled:         opts.Connection.Enabled,
		queue:           make(chan func(), size),
		done:            make(chan struct{}),
	}

	r.conn = connection.New(connection.Options{
		Config:       opts.Connection,
		NewTransport: opts.NewTransport,
		Clock:        opts.Clock,
		Logger:       logger.With("component", "connection"),
		Post:         func(fn func()) { r.post(fn) },
		Go:           opts.Go,
	})
	r.publisher = presence.NewPublisher(r.conn, opts.Clock, logger.With("component", "publisher"), opts.SendTimeout)
	r.tracker = presence.NewTracker(r.publisher.StartSession)

	r.conn.OnReady(func() {
		r.publisher.Replay(context.Background())
	})
	r.publisher.OnPublish(func(presence.Snapshot, presence.Activity) {
		r.notify()
	})
	return r
}

// Run connects and drains the queue until ctx is cancelled, then
// disconnects within the shutdown timeout.
func (r *Router) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	r.conn.Connect()

	for {
		select {
		case fn := <-r.queue:
			fn()
		case <-ctx.Done():
			r.shutdown()
			return
		}
	}
}

func (r *Router) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	r.conn.Disconnect(ctx)
	r.logger.Info("router stopped")
}

// Done is closed once Run has returned.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Deliver queues a host event. It reports false once the router has
// stopped.
func (r *Router) Deliver(ev presence.Event) bool {
	return r.post(func() { r.handleEvent(ev) })
}

// Reconnect queues an explicit reconnect request.
func (r *Router) Reconnect() bool {
	return r.post(func() {
		r.logger.Info("reconnect requested")
		r.conn.Reconnect()
		r.notify()
	})
}

// Clear queues removal of the displayed presence.
func (r *Router) Clear() bool {
	return r.post(func() {
		r.publisher.Clear(context.Background())
		r.notify()
	})
}

// Status reads the current state through the queue.
func (r *Router) Status(ctx context.Context) (Status, error) {
	result := make(chan Status, 1)
	if !r.post(func() { result <- r.status() }) {
		return Status{}, ErrStopped
	}
	select {
	case s := <-result:
		return s, nil
	case <-r.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Subscribe registers fn to receive the status after every acknowledged
// publish or reconnect request. fn runs on the router goroutine and must
// not block.
func (r *Router) Subscribe(fn func(Status)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Router) handleEvent(ev presence.Event) {
	snap, changed := r.tracker.Apply(ev)
	if !changed {
		r.logger.Debug("event did not change presence", "event", ev.Kind)
		return
	}
	r.logger.Debug("presence changed", "event", ev.Kind, "kind", snap.Kind, "label", snap.Label)
	r.publisher.Publish(context.Background(), snap)
}

func (r *Router) status() Status {
	snap := r.tracker.Current()
	budget := r.conn.Budget()
	return Status{
		Snapshot:   snap,
		Details:    snap.Details(),
		State:      snap.Kind.StatusLabel(),
		Connection: r.conn.State().String(),
		Attempts:   budget.Attempts,
		MaxRetries: budget.Max,
		Enabled:    r.enabled,
	}
}

func (r *Router) notify() {
	r.subMu.Lock()
	subs := append([]func(Status){}, r.subscribers...)
	r.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	s := r.status()
	for _, fn := range subs {
		fn(s)
	}
}

// post enqueues fn, blocking while the queue is full.
func (r *Router) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.queue <- fn:
		return true
	case <-r.done:
		return false
	}
}
