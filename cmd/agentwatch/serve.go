package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"tools.zach/dev/agentwatch/internal/server"
)

// newServeCmd keeps a fresh snapshot and serves it on the local socket.
func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest snapshot on a local socket",
		Long:  "Rescans on transcript writes and on the poll interval, and serves GET /v1/sessions, GET /v1/links, and GET /healthz on a unix socket in the data directory (a named pipe on Windows).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// serve runs the snapshot server until a shutdown signal arrives.
func (a *app) serve(parent context.Context) error {
	pid, err := acquirePID(a.dirs)
	if err != nil {
		return err
	}
	defer pid.release()

	addr := server.Address(a.cfg.SocketPath(a.dirs))
	ln, err := server.Listen(addr)
	if err != nil {
		return err
	}

	eng := a.engine()
	srv := server.New(eng, eng.Links(), a.log)
	a.log.Info("agentwatch serve starting", "version", resolveVersion(), "data_dir", a.dirs.Root)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ctx, ln)
		if err != nil {
			cancel()
		}
		serveErr <- err
	}()

	loopErr := a.rescanLoop(ctx, func(ctx context.Context) {
		if err := srv.Refresh(ctx); err != nil {
			a.log.Warn("snapshot refresh failed", "error", err)
		}
	})
	cancel()
	if err := <-serveErr; err != nil {
		return fmt.Errorf("snapshot server: %w", err)
	}
	a.log.Info("agentwatch serve stopped")
	return loopErr
}
