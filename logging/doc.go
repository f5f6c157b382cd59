// Package logging provides a minimal logging interface and adapters for runbridge.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the bridge, reconciler and stores use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - RunLogger with contextual run/channel attributes and domain helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	b := bridge.New(exec, st, msg, func(o *bridge.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
