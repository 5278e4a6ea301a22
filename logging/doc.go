// Package logging provides a minimal logging interface and adapters for chatmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, the turn executor and the model clients use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ChatLogger with topic / component context and LLM call helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(store, executor, func(o *engine.Options) { o.Logger = logger })
package logging
