package model

import (
	"context"
	"strings"
)

// Role is the conversational role of a history entry.
type Role string

const (
	// RoleSystem carries persona / orchestration instructions.
	RoleSystem Role = "system"
	// RoleUser carries human (or other speakers') turns.
	RoleUser Role = "user"
	// RoleAssistant carries the speaking persona's own earlier turns.
	RoleAssistant Role = "assistant"
)

// Provider names understood by Router.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Message is one entry of the conversation history sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Config describes the endpoint and sampling parameters of one call. Nil
// Temperature / TopP leave the provider defaults in place.
type Config struct {
	Provider    string
	EndpointURL string
	APIKey      string
	ModelID     string
	Temperature *float64
	TopP        *float64
	MaxTokens   int64
}

// Request captures the normalized model input. History must already be
// windowed to the caller's context size.
type Request struct {
	Config       Config
	SystemPrompt string
	History      []Message
}

// Messages returns the system prompt (if any) followed by the history.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+1)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}

	return append(msgs, r.History...)
}

// Stream is a lazy, finite sequence of text deltas produced by one
// inference call. It is not restartable.
//
// Next advances to the next non-empty delta and reports whether one is
// available. When Next returns false the stream is finished: Err returns nil
// on normal completion (end marker or body exhaustion) or a classified error.
// Close releases the underlying connection and is safe to call more than once.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the minimal interface required by the executor and the engine.
// Stream never returns nil; request failures surface through Stream.Err.
type Model interface {
	Stream(ctx context.Context, req Request) Stream

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains the stream, returning the concatenated deltas. The stream
// is closed before Collect returns.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Current())
	}

	return b.String(), s.Err()
}

// errStream is a Stream that fails immediately.
type errStream struct{ err error }

// ErrorStream returns a Stream whose first Next reports err.
func ErrorStream(err error) Stream { return &errStream{err: err} }

func (s *errStream) Next() bool      { return false }
func (s *errStream) Current() string { return "" }
func (s *errStream) Err() error      { return s.err }
func (s *errStream) Close() error    { return nil }
