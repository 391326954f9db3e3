//go:build windows

package main

import (
	"context"

	"landrop/internal/logging"
)

// No SIGUSR1 on Windows; use the stdin toggle or the API.
func toggleOnSignal(ctx context.Context, logger *logging.Logger) {}
