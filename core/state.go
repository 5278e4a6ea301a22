package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SchemaVersion is written into every serialized State.
const SchemaVersion = 1

// TopicNameLength is the number of runes of the first user message used as
// an automatic topic name.
const TopicNameLength = 20

// Group is an ordered, duplicate-free set of member agents.
type Group struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MemberAgentIDs []string `json:"memberAgentIds"`
}

// Validate checks the invariants of a group.
func (g Group) Validate() error {
	if g.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(g.MemberAgentIDs))
	for _, id := range g.MemberAgentIDs {
		if id == OrchestratorID {
			return &ValidationError{Field: "memberAgentIds", Reason: "the orchestrator cannot be a member"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "memberAgentIds", Reason: fmt.Sprintf("duplicate member %q", id)}
		}
		seen[id] = struct{}{}
	}

	return nil
}

// IsPrivate reports whether the group routes turns straight to its single
// member instead of through the orchestrator.
func (g Group) IsPrivate() bool { return len(g.MemberAgentIDs) == 1 }

// Topic is one conversation thread inside a group.
type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeriveTopicName builds a topic name from the first user message.
func DeriveTopicName(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= TopicNameLength {
		return text
	}

	return string([]rune(text)[:TopicNameLength])
}

// MessageKind tells who produced a message.
type MessageKind string

const (
	// MessageUser is authored by the human.
	MessageUser MessageKind = "user"
	// MessageAgent is a streamed agent turn.
	MessageAgent MessageKind = "agent"
	// MessageError is a failed turn with no partial output.
	MessageError MessageKind = "error"
	// MessageSystem is an orchestration diagnostic (abort, selection failure).
	MessageSystem MessageKind = "system"
)

// ErrorAuthor is the author name of MessageError entries.
const ErrorAuthor = "Error"

// SystemAuthor is the author name of MessageSystem entries.
const SystemAuthor = "System"

// Message is one entry of a topic's ordered log. Text grows in place while
// its stream is open and is immutable afterwards.
type Message struct {
	ID         string      `json:"id"`
	AuthorName string      `json:"authorName"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// IsConversational reports whether the message belongs in model context.
// Error and system diagnostics are shown to the user but never sent to models.
func (m Message) IsConversational() bool {
	return m.Kind == MessageUser || m.Kind == MessageAgent
}

// Settings holds user-level defaults.
type Settings struct {
	UserName           string `json:"userName"`
	DefaultEndpointURL string `json:"defaultEndpointUrl,omitempty"`
	DefaultAPIKey      string `json:"defaultApiKey,omitempty"`
	DefaultModelID     string `json:"defaultModelId,omitempty"`
}

// DefaultUserName is used when Settings.UserName is empty.
const DefaultUserName = "User"

// State is the serializable snapshot of the whole conversation store.
type State struct {
	SchemaVersion  int                  `json:"schemaVersion"`
	Settings       Settings             `json:"settings"`
	ModelServices  []ModelService       `json:"modelServices"`
	Agents         []Agent              `json:"agents"`
	Orchestrator   Orchestrator         `json:"orchestrator"`
	Groups         []Group              `json:"groups"`
	Topics         []Topic              `json:"topics"`
	Messages       map[string][]Message `json:"messages"`
	CurrentTopicID string               `json:"currentTopicId,omitempty"`
}

// NewState returns an empty state with defaults applied.
func NewState() *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Settings:      Settings{UserName: DefaultUserName},
		ModelServices: []ModelService{},
		Agents:        []Agent{},
		Orchestrator:  Orchestrator{SystemPrompt: DefaultOrchestratorPrompt},
		Groups:        []Group{},
		Topics:        []Topic{},
		Messages:      map[string][]Message{},
	}
}

// Clone returns a deep copy of the state safe for independent mutation.
func (s *State) Clone() *State {
	c := *s
	c.ModelServices = append([]ModelService{}, s.ModelServices...)
	c.Agents = append([]Agent{}, s.Agents...)
	c.Groups = make([]Group, len(s.Groups))
	for i, g := range s.Groups {
		g.MemberAgentIDs = append([]string{}, g.MemberAgentIDs...)
		c.Groups[i] = g
	}
	c.Topics = append([]Topic{}, s.Topics...)
	c.Messages = make(map[string][]Message, len(s.Messages))
	for k, v := range s.Messages {
		c.Messages[k] = append([]Message{}, v...)
	}

	return &c
}

// Encode serializes the state as JSON.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}

	return data, nil
}

// DecodeState parses a serialized state and fills defaults for missing
// collections.
func DecodeState(data []byte) (*State, error) {
	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if st.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("decoding state: unsupported schema version %d", st.SchemaVersion)
	}
	st.SchemaVersion = SchemaVersion
	if st.Messages == nil {
		st.Messages = map[string][]Message{}
	}

	return st, nil
}
