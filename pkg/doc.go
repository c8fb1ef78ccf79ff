// Package pkg provides shared utilities for the softccid gadget function.
//
// This package contains common functionality used across the HAL and the
// CCID class driver, including:
//
//   - Component-scoped structured logging over Go's standard [log/slog]
//   - Sentinel error types for gadget and reader errors
//   - Log attribute helpers for the identifiers CCID threads through
//     every exchange (slot, sequence number, bError, protocol data)
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// Each subsystem logs through a component-tagged [Logger]:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	log := pkg.Log(pkg.ComponentFunction)
//	log.Info("enabled by host")
//	log.Request("bulk abort latched", slot, seq)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrShutdown) {
//	    // Host went away; wind down quietly.
//	}
package pkg
