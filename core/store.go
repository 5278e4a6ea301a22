package core

// MessageRef is the owned handle to a message that is still streaming. Only
// the turn that created it may append to it; Complete freezes the text.
type MessageRef interface {
	ID() string
	TopicID() string
	// Append adds a delta to the message text in place.
	Append(delta string) error
	// Text returns the current text.
	Text() string
	// Complete marks the message immutable. Further Append calls fail.
	Complete()
}

// Store is the slice of the conversation store the executor and the engine
// depend on. Lookups of stale ids fail with *NotFoundError.
type Store interface {
	AppendMessage(topicID string, msg Message) (MessageRef, error)
	Messages(topicID string) ([]Message, error)
	// Recent returns the last k messages of a topic (all when k <= 0).
	Recent(topicID string, k int) ([]Message, error)

	Agent(id string) (Agent, error)
	Group(id string) (Group, error)
	Topic(id string) (Topic, error)
	ModelService(id string) (ModelService, error)
	Orchestrator() Orchestrator
	Settings() Settings

	// NameTopicIfEmpty sets the topic name if it is still empty.
	NameTopicIfEmpty(topicID, name string) (bool, error)

	Snapshot() *State
}

// Persister is the best-effort persistence collaborator. Load returns
// (nil, nil) when nothing was saved yet.
type Persister interface {
	Load() (*State, error)
	Save(state *State) error
}
