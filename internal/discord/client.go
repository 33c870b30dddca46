package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"presenced/internal/connection"
	"presenced/internal/presence"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const writeDeadline = 10 * time.Second

var (
	// ErrClosed is returned by calls on a client whose connection is gone.
	ErrClosed = errors.New("ipc connection closed")

	// ErrRejected wraps an ERROR response to a command.
	ErrRejected = errors.New("ipc command rejected")
)

// Dialer opens the raw IPC stream.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces socket discovery with d.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPID overrides the process id reported with activities.
func WithPID(pid int) Option {
	return func(c *Client) { c.pid = pid }
}

type handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

type command struct {
	Cmd   string `json:"cmd"`
	Args  any    `json:"args"`
	Nonce string `json:"nonce"`
}

type activityArgs struct {
	PID      int                `json:"pid"`
	Activity *presence.Activity `json:"activity"`
}

type result struct {
	body []byte
	err  error
}

// Client is one IPC connection to the desktop client. It is single use:
// once closed, a new Client is needed.
type Client struct {
	appID  string
	events connection.Events
	dial   Dialer
	logger *slog.Logger
	pid    int

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	pending   map[string]chan result
	loggedIn  bool
	destroyed bool
	closeErr  error

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a client for the given application id.
func New(appID string, events connection.Events, opts ...Option) *Client {
	c := &Client{
		appID:   appID,
		events:  events,
		dial:    dialSocket,
		logger:  slog.Default(),
		pid:     os.Getpid(),
		pending: make(map[string]chan result),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory adapts New to connection.Factory.
func Factory(logger *slog.Logger, opts ...Option) connection.Factory {
	return func(appID string, events connection.Events) (connection.Transport, error) {
		if appID == "" {
			return nil, errors.New("application id is empty")
		}
		all := append([]Option{WithLogger(logger)}, opts...)
		return New(appID, events, all...), nil
	}
}

// Login dials, sends the handshake, and waits for the READY dispatch.
func (c *Client) Login(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	body, err := json.Marshal(handshake{V: 1, ClientID: c.appID})
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	go c.readLoop(conn)
	if err := c.write(OpHandshake, body); err != nil {
		c.terminate(err)
		return err
	}

	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return c.err()
	case <-ctx.Done():
		c.terminate(ctx.Err())
		return fmt.Errorf("wait for ready: %w", ctx.Err())
	}
}

// SetActivity replaces the displayed activity.
func (c *Client) SetActivity(ctx context.Context, a presence.Activity) error {
	_, err := c.request(ctx, "SET_ACTIVITY", activityArgs{PID: c.pid, Activity: &a})
	return err
}

// ClearActivity removes the displayed activity.
func (c *Client) ClearActivity(ctx context.Context) error {
	_, err := c.request(ctx, "SET_ACTIVITY", activityArgs{PID: c.pid})
	return err
}

// Destroy closes the connection without emitting a disconnected
// notification.
func (c *Client) Destroy() error {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.terminate(ErrClosed)
	return nil
}

func (c *Client) request(ctx context.Context, cmd string, args any) ([]byte, error) {
	nonce := uuid.NewString()
	body, err := json.Marshal(command{Cmd: cmd, Args: args, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd, err)
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[nonce] = ch
	c.mu.Unlock()

	if err := c.write(OpFrame, body); err != nil {
		c.dropPending(nonce)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		c.dropPending(nonce)
		return nil, fmt.Errorf("%s: %w", cmd, ctx.Err())
	}
}

func (c *Client) dropPending(nonce string) {
	c.mu.Lock()
	delete(c.pending, nonce)
	c.mu.Unlock()
}

func (c *Client) write(op Opcode, body []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		d.SetWriteDeadline(time.Now().Add(writeDeadline))
	}
	return writeFrame(conn, op, body)
}

func (c *Client) readLoop(conn io.Reader) {
	for {
		op, body, err := readFrame(conn)
		if err != nil {
			c.terminate(fmt.Errorf("read frame: %w", err))
			return
		}

		switch op {
		case OpFrame:
			c.handleFrame(body)
		case OpPing:
			if err := c.write(OpPong, body); err != nil {
				c.terminate(err)
				return
			}
		case OpClose:
			c.terminate(closeReason(body))
			return
		default:
			c.logger.Debug("ignoring ipc frame", "op", op)
		}
	}
}

func (c *Client) handleFrame(body []byte) {
	cmd := gjson.GetBytes(body, "cmd").String()
	evt := gjson.GetBytes(body, "evt").String()

	if cmd == "DISPATCH" && evt == "READY" {
		c.markReady(body)
		return
	}

	nonce := gjson.GetBytes(body, "nonce").String()
	if nonce == "" {
		c.logger.Debug("ignoring ipc dispatch", "cmd", cmd, "evt", evt)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[nonce]
	delete(c.pending, nonce)
	c.mu.Unlock()
	if !ok {
		return
	}

	if evt == "ERROR" {
		ch <- result{err: fmt.Errorf("%w: %s: %s (code %d)", ErrRejected, cmd,
			gjson.GetBytes(body, "data.message").String(),
			gjson.GetBytes(body, "data.code").Int(),
		)}
		return
	}
	ch <- result{body: body}
}

func (c *Client) markReady(body []byte) {
	c.readyOnce.Do(func() {
		c.mu.Lock()
		c.loggedIn = true
		c.mu.Unlock()
		close(c.ready)

		c.logger.Debug("ipc handshake complete",
			"user", gjson.GetBytes(body, "data.user.username").String(),
		)
		if c.events.Ready != nil {
			c.events.Ready()
		}
	})
}

// terminate closes the connection once. Pending requests are failed
// before the disconnected notification is emitted.
func (c *Client) terminate(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		conn := c.conn
		pending := c.pending
		c.pending = make(map[string]chan result)
		notify := c.loggedIn && !c.destroyed
		close(c.closed)
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		for _, ch := range pending {
			ch <- result{err: fmt.Errorf("%w: %v", ErrClosed, err)}
		}
		if notify && c.events.Disconnected != nil {
			c.events.Disconnected(err)
		}
	})
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr == nil {
		return ErrClosed
	}
	return c.closeErr
}

func closeReason(body []byte) error {
	return fmt.Errorf("%w: remote closed: %s (code %d)", ErrClosed,
		gjson.GetBytes(body, "message").String(),
		gjson.GetBytes(body, "code").Int(),
	)
}
