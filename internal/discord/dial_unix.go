//go:build !windows

package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"presenced/internal/connection"
)

// SocketPrefix is the file name prefix of the IPC sockets.
const SocketPrefix = "discord-ipc-"

const socketSlots = 10

// Sandboxed installs put their socket below the runtime directory.
var sandboxSubdirs = []string{
	"",
	"app/com.discordapp.Discord",
	"app/com.discordapp.DiscordCanary",
	"snap.discord",
	"snap.discord-canary",
}

// SocketDirs lists the directories that may hold an IPC socket, in
// search order.
func SocketDirs() []string {
	var bases []string
	seen := make(map[string]bool)
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(key); v != "" && !seen[v] {
			seen[v] = true
			bases = append(bases, v)
		}
	}
	if !seen["/tmp"] {
		bases = append(bases, "/tmp")
	}

	var dirs []string
	for _, base := range bases {
		for _, sub := range sandboxSubdirs {
			dirs = append(dirs, filepath.Join(base, sub))
		}
	}
	return dirs
}

func socketPaths() []string {
	var paths []string
	for _, dir := range SocketDirs() {
		for i := 0; i < socketSlots; i++ {
			paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s%d", SocketPrefix, i)))
		}
	}
	return paths
}

func dialSocket(ctx context.Context) (io.ReadWriteCloser, error) {
	return dialPaths(ctx, socketPaths())
}

// dialPaths connects to the first path that accepts. When none do and
// every failure means "nothing listening", the error wraps
// connection.ErrServiceUnavailable.
func dialPaths(ctx context.Context, paths []string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	var unexpected error
	for _, p := range paths {
		conn, err := d.DialContext(ctx, "unix", p)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(connection.Classify(err), connection.ErrServiceUnavailable) {
			unexpected = err
		}
	}
	if unexpected != nil {
		return nil, fmt.Errorf("dial ipc socket: %w", unexpected)
	}
	return nil, fmt.Errorf("%w: no %s* socket found", connection.ErrServiceUnavailable, SocketPrefix)
}
