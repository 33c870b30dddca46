//go:build windows

package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"presenced/internal/connection"
)

// SocketPrefix is the pipe name prefix of the IPC endpoints.
const SocketPrefix = "discord-ipc-"

const socketSlots = 10

// SocketDirs returns nil: named pipes cannot be watched for creation.
func SocketDirs() []string { return nil }

func dialSocket(ctx context.Context) (io.ReadWriteCloser, error) {
	for i := 0; i < socketSlots; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(fmt.Sprintf(`\\.\pipe\%s%d`, SocketPrefix, i), os.O_RDWR, 0)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open ipc pipe: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: no %s* pipe found", connection.ErrServiceUnavailable, SocketPrefix)
}
