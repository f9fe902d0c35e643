// Named pipe transport for Windows, built on go-winio.

//go:build windows

package server

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
	"tools.zach/dev/agentwatch/internal/paths"
)

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

// pipePrefix begins every local named pipe path.
const pipePrefix = `\\.\pipe\`

// Address returns the pipe to listen on. A configured socket that is not a
// pipe path is ignored in favor of the default pipe.
func Address(socket string) string {
	if strings.HasPrefix(socket, pipePrefix) {
		return socket
	}
	return paths.PipeName
}

// Listen creates the named pipe at addr. Only the current user may connect.
func Listen(addr string) (net.Listener, error) {
	ln, err := winio.ListenPipe(addr, &winio.PipeConfig{
		// Owner full control; everyone else denied.
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
	})
	if err != nil {
		if strings.Contains(err.Error(), "Access is denied") {
			return nil, fmt.Errorf("listen %s: %w", addr, ErrAddressInUse)
		}
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// dial connects to the named pipe at addr.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, addr)
}
