// Unix domain socket transport.
//
// This file is compiled on all non-Windows platforms. The socket lives in the
// data directory and is restricted to the current user.

//go:build !windows

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

// Address returns the listen address for socket, the configured socket path.
func Address(socket string) string {
	return socket
}

// Listen binds the unix socket at addr, replacing a stale socket file left
// behind by a previous run. A socket that still accepts connections is not
// replaced.
func Listen(addr string) (net.Listener, error) {
	if _, err := os.Stat(addr); err == nil {
		conn, dialErr := net.DialTimeout("unix", addr, 500*time.Millisecond)
		if dialErr == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("listen %s: %w", addr, ErrAddressInUse)
		}
		if err := os.Remove(addr); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat socket: %w", err)
	}

	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := os.Chmod(addr, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}
	return ln, nil
}

// dial connects to the unix socket at addr.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", addr)
}
