package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownContext returns a context that is canceled on the first SIGINT or
// SIGTERM, and a stop func that releases the signal handler once the command
// is done. A second signal before stop exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	stopped := make(chan struct{})

	var once sync.Once

	stop := func() {
		once.Do(func() {
			close(stopped)
			cancel()
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-stopped:
			return
		case <-parent.Done():
			return
		}
	}()

	return ctx, stop
}
