package main

import (
	"context"
	"fmt"
	"time"

	"tools.zach/dev/agentwatch/internal/config"
	"tools.zach/dev/agentwatch/internal/watch"
)

// ///////////////////////////////////////////////
// Rescan Loop
// ///////////////////////////////////////////////

// rescanLoop calls fn once, then again on every transcript change and every
// poll tick, until ctx is done or a shutdown signal arrives. The tick keeps
// time- and CPU-based statuses current while transcripts are quiet.
func (a *app) rescanLoop(ctx context.Context, fn func(context.Context)) error {
	poll := config.Seconds(a.cfg.Watch.PollIntervalSeconds)
	w, err := watch.New(a.cfg.ClaudeProjectsDir(), watch.Options{
		PollInterval: poll,
		Debounce:     config.Millis(a.cfg.Watch.DebounceMS),
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if w.Polling() {
		a.log.Info("using polling mode for file watching")
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	sigCh := signalChannel()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			a.log.Info("received shutdown signal")
			return nil
		case <-w.Events():
			fn(ctx)
		case <-ticker.C:
			fn(ctx)
		}
	}
}
