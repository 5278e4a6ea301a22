// Package model defines the provider-agnostic streaming inference contract
// used by the turn executor and the orchestrator engine.
//
// Core goals:
//   - Express a streamed completion as a lazy, finite, non-restartable
//     sequence of text deltas (Stream) instead of delta/complete/error callbacks
//   - Classify every failure as NetworkError, HTTPStatusError, ParseError or
//     AbortError so callers can tell a cancelled request from a broken one
//   - Keep request shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (model/openai, model/anthropic) implement Model. Router selects
// one per request from Config.Provider.
package model
