package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// GracefulShutdown watches SIGINT and SIGTERM. The first signal sets the
// canceller so the run stops at its next checkpoint and keeps its partial
// results; the second cancels the returned context.
func GracefulShutdown(parent context.Context, logger *slog.Logger, c *Canceller) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				if n == 0 {
					logger.Info("shutdown signal received, stopping after the current step", "signal", sig.String())
					c.Cancel()
					continue
				}
				logger.Info("second shutdown signal received, aborting", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	return ctx, cancel
}
