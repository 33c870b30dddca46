package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"presenced/internal/clock"
	"presenced/internal/presence"
)

// State is the lifecycle state of the transport handle.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// Transport is the remote IPC capability. Login blocks until the remote
// side is ready or fails; the other calls are only made while Ready.
type Transport interface {
	Login(ctx context.Context) error
	SetActivity(ctx context.Context, a presence.Activity) error
	ClearActivity(ctx context.Context) error
	Destroy() error
}

// Events carries the asynchronous notifications a transport emits.
// Both callbacks may be invoked from any goroutine.
type Events struct {
	Ready        func()
	Disconnected func(err error)
}

// Factory builds a fresh transport for one connection attempt.
type Factory func(appID string, events Events) (Transport, error)

// Config controls connection and retry behaviour.
type Config struct {
	Enabled       bool
	AppID         string
	RetryInterval time.Duration
	MaxRetries    int
	LoginTimeout  time.Duration
}

// Options wires a Manager into its owning event loop.
type Options struct {
	Config       Config
	NewTransport Factory
	Clock        clock.Clock
	Logger       *slog.Logger

	// Post schedules fn on the goroutine that owns the Manager. Every
	// transport callback and timer firing goes through it.
	Post func(fn func())

	// Go runs blocking transport work. Defaults to a new goroutine.
	Go func(fn func())
}

// Manager owns at most one transport handle and reconnects it with a
// bounded retry budget. It never sends while not Ready and never has
// two connection attempts in flight.
//
// All methods must be called from the goroutine behind Options.Post.
type Manager struct {
	cfg          Config
	newTransport Factory
	clock        clock.Clock
	logger       *slog.Logger
	post         func(func())
	spawn        func(func())

	state     State
	transport Transport
	// gen identifies the current transport handle. Notifications and
	// login results carrying an older generation are dropped.
	gen         uint64
	cancelLogin context.CancelFunc

	budget    RetryBudget
	retry     *clock.Timer
	retrySeq  uint64
	exhausted bool

	readyHooks []func()
}

// New creates a Manager in the Disconnected state.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:          opts.Config,
		newTransport: opts.NewTransport,
		clock:        opts.Clock,
		logger:       opts.Logger,
		post:         opts.Post,
		spawn:        opts.Go,
		budget: RetryBudget{
			Max:      opts.Config.MaxRetries,
			Interval: opts.Config.RetryInterval,
		},
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.post == nil {
		m.post = func(fn func()) { fn() }
	}
	if m.spawn == nil {
		m.spawn = func(fn func()) { go fn() }
	}
	return m
}

// OnReady registers fn to run each time the connection becomes ready.
func (m *Manager) OnReady(fn func()) {
	m.readyHooks = append(m.readyHooks, fn)
}

func (m *Manager) State() State { return m.state }

// Ready reports whether sends are currently allowed.
func (m *Manager) Ready() bool { return m.state == Ready }

// Budget returns a copy of the retry budget.
func (m *Manager) Budget() RetryBudget { return m.budget }

// Connect starts a connection attempt if none is active and reports
// whether the connection is already ready. The attempt completes
// asynchronously.
func (m *Manager) Connect() bool {
	if !m.cfg.Enabled {
		m.logger.Debug("presence disabled, not connecting")
		return false
	}
	switch m.state {
	case Ready:
		return true
	case Connecting:
		return false
	}

	m.cancelRetry()
	m.gen++
	gen := m.gen

	t, err := m.newTransport(m.cfg.AppID, Events{
		Ready: func() {
			m.post(func() { m.handleReady(gen) })
		},
		Disconnected: func(err error) {
			m.post(func() { m.handleDisconnected(gen, err) })
		},
	})
	if err != nil {
		m.fail(fmt.Errorf("create transport: %w", err))
		return false
	}

	m.transport = t
	m.state = Connecting

	var ctx context.Context
	var cancel context.CancelFunc
	if m.cfg.LoginTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.cfg.LoginTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancelLogin = cancel

	m.logger.Debug("connecting to ipc service", "retry", m.budget.Attempts)
	m.spawn(func() {
		err := t.Login(ctx)
		m.post(func() { m.handleLogin(gen, err) })
	})
	return false
}

// Reconnect is an explicit reconnect request. It refills the retry
// budget, so it also revives a connection whose retries ran out.
func (m *Manager) Reconnect() bool {
	if m.state == Disconnected {
		m.budget.Reset()
		m.exhausted = false
	}
	return m.Connect()
}

// Disconnect shuts the connection down without scheduling a retry. When
// Ready it first tries to clear the remote presence.
func (m *Manager) Disconnect(ctx context.Context) {
	m.cancelRetry()
	if m.state == Ready && m.transport != nil {
		if err := m.transport.ClearActivity(ctx); err != nil {
			m.logger.Debug("could not clear presence during disconnect", "error", err)
		}
	}
	if m.state != Disconnected {
		m.logger.Info("disconnected from ipc service")
	}
	m.teardown()
}

// SetActivity forwards a payload to the transport while Ready.
func (m *Manager) SetActivity(ctx context.Context, a presence.Activity) error {
	if m.state != Ready || m.transport == nil {
		return ErrNotReady
	}
	if err := m.transport.SetActivity(ctx, a); err != nil {
		return fmt.Errorf("set activity: %w", err)
	}
	return nil
}

// ClearActivity asks the transport to remove the displayed presence.
func (m *Manager) ClearActivity(ctx context.Context) error {
	if m.state != Ready || m.transport == nil {
		return ErrNotReady
	}
	if err := m.transport.ClearActivity(ctx); err != nil {
		return fmt.Errorf("clear activity: %w", err)
	}
	return nil
}

func (m *Manager) handleLogin(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.releaseLogin()
	if err != nil {
		m.fail(err)
		return
	}
	m.markReady()
}

func (m *Manager) handleReady(gen uint64) {
	if gen != m.gen {
		return
	}
	m.markReady()
}

func (m *Manager) handleDisconnected(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	switch m.state {
	case Connecting:
		m.fail(err)
	case Ready:
		m.logger.Info("ipc connection dropped", "error", err)
		m.teardown()
		m.scheduleRetry()
	}
}

func (m *Manager) markReady() {
	if m.state == Ready {
		return
	}
	m.state = Ready
	m.budget.Reset()
	m.exhausted = false
	m.cancelRetry()
	m.logger.Info("connected to ipc service")

	for _, hook := range m.readyHooks {
		hook()
	}
}

func (m *Manager) fail(err error) {
	m.teardown()
	if errors.Is(Classify(err), ErrServiceUnavailable) {
		m.logger.Debug("ipc service not running", "error", err, "retry", m.budget.Attempts)
	} else {
		m.logger.Warn("ipc connection failed", "error", err, "retry", m.budget.Attempts)
	}
	m.scheduleRetry()
}

// scheduleRetry arms the single retry timer, or reports exhaustion.
func (m *Manager) scheduleRetry() {
	m.cancelRetry()
	if !m.budget.Spend() {
		if !m.exhausted {
			m.exhausted = true
			m.logger.Warn("no more reconnect attempts",
				"error", ErrRetryExhausted,
				"max_retries", m.budget.Max,
			)
		}
		return
	}

	seq := m.retrySeq
	m.retry = m.clock.AfterFunc(m.budget.Interval, func() {
		m.post(func() { m.retryFired(seq) })
	})
	m.logger.Debug("reconnect scheduled",
		"attempt", m.budget.Attempts,
		"max_retries", m.budget.Max,
		"interval", m.budget.Interval,
	)
}

// retryFired runs on the owning goroutine. A firing that was cancelled
// or superseded after it was posted is ignored.
func (m *Manager) retryFired(seq uint64) {
	if seq != m.retrySeq || m.state != Disconnected {
		return
	}
	m.retry = nil
	m.Connect()
}

func (m *Manager) cancelRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retrySeq++
}

func (m *Manager) releaseLogin() {
	if m.cancelLogin != nil {
		m.cancelLogin()
		m.cancelLogin = nil
	}
}

// teardown drops the current handle and invalidates its generation.
func (m *Manager) teardown() {
	m.releaseLogin()
	if m.transport != nil {
		if err := m.transport.Destroy(); err != nil {
			m.logger.Debug("transport destroy failed", "error", err)
		}
		m.transport = nil
	}
	m.state = Disconnected
	m.gen++
}
