package core

import (
	"time"

	"github.com/google/uuid"
)

// UpdateKind classifies an Update.
type UpdateKind string

const (
	// UpdateMessageCreated fires when a message is appended to a topic.
	UpdateMessageCreated UpdateKind = "message_created"
	// UpdateMessageDelta fires for every streamed delta after the first.
	UpdateMessageDelta UpdateKind = "message_delta"
	// UpdateMessageCompleted fires when a streamed message is frozen.
	UpdateMessageCompleted UpdateKind = "message_completed"
	// UpdateStateChanged fires on every orchestration state transition.
	UpdateStateChanged UpdateKind = "state_changed"
	// UpdateTopicRenamed fires when a topic name is derived automatically.
	UpdateTopicRenamed UpdateKind = "topic_renamed"
)

// Update is a notification pushed to the presentation layer. After emission
// it should be treated as immutable. Fields not relevant to Kind are empty.
type Update struct {
	ID        string     `json:"id"`
	Kind      UpdateKind `json:"kind"`
	TopicID   string     `json:"topic_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Author    string     `json:"author,omitempty"`
	// Delta holds the increment for message updates, the new name for
	// UpdateTopicRenamed.
	Delta string `json:"delta,omitempty"`
	// Text is the full message text so far.
	Text string `json:"text,omitempty"`
	// State is the new orchestration state for UpdateStateChanged.
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpdate creates a bare update bound to a topic.
func NewUpdate(kind UpdateKind, topicID string) Update {
	return Update{
		ID:        NewID(),
		Kind:      kind,
		TopicID:   topicID,
		Timestamp: time.Now().UTC(),
	}
}

// IsMessage reports whether the update concerns message content.
func (u Update) IsMessage() bool {
	switch u.Kind {
	case UpdateMessageCreated, UpdateMessageDelta, UpdateMessageCompleted:
		return true
	}

	return false
}

// Observer receives updates. Implementations must not block for long: they
// are called synchronously on the orchestration goroutine.
type Observer interface {
	Notify(u Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(u Update)

// Notify implements Observer.
func (f ObserverFunc) Notify(u Update) { f(u) }

// NoOpObserver discards all updates.
type NoOpObserver struct{}

// Notify implements Observer.
func (NoOpObserver) Notify(Update) {}

// NewID generates a new unique identifier for entities and updates.
func NewID() string { return uuid.NewString() }
