//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"landrop/internal/logging"
)

// toggleOnSignal flips request logging on SIGUSR1.
func toggleOnSignal(ctx context.Context, logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			logger.Toggle()
		}
	}
}
