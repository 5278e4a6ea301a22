// Package agent runs single persona turns against a model service.
//
// The Executor is the only component that turns a model.Stream into
// conversation state. It concerns itself with:
//
//  1. Resolving the persona's model service and credentials before any
//     network call (core.ServiceNotFoundError, core.MissingCredentialError)
//  2. Creating the reply message on the first non-empty delta and growing it
//     in place through its core.MessageRef
//  3. Notifying the core.Observer for every change and flushing persistence
//     when the turn ends
//  4. Rendering transport failures into the conversation, while a cancelled
//     turn leaves no error behind
//
// History shaping (windowing, role assignment, speaker prefixes) lives in
// BuildHistory so the engine and the executor agree on what a model sees.
package agent
