package connection

import (
	"errors"
	"os"
	"syscall"
)

var (
	// ErrServiceUnavailable means the local IPC endpoint is absent. This
	// is the normal state while the desktop client is not running.
	ErrServiceUnavailable = errors.New("ipc service unavailable")

	// ErrTransport covers every other connect, send, or clear failure.
	ErrTransport = errors.New("transport failure")

	// ErrRetryExhausted is reported once when automatic reconnects stop.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrNotReady is returned by sends attempted outside the Ready state.
	ErrNotReady = errors.New("connection not ready")
)

// Classify maps a transport error onto ErrServiceUnavailable or
// ErrTransport.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.ECONNREFUSED):
		return ErrServiceUnavailable
	default:
		return ErrTransport
	}
}
