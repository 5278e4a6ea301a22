package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/chatmesh/core"
)

// ErrMessageCompleted is returned when appending to a frozen message.
var ErrMessageCompleted = errors.New("message already completed")

// InMemoryStore is a thread-safe conversation store holding the complete
// state in process memory. Every returned value is a copy so callers can
// never mutate internal state.
type InMemoryStore struct {
	mu    sync.RWMutex
	state *core.State
	now   func() time.Time
}

// Compile-time assertion.
var _ core.Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: core.NewState(), now: func() time.Time { return time.Now().UTC() }}
}

// Snapshot returns a deep copy of the current state.
func (s *InMemoryStore) Snapshot() *core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Clone()
}

// Restore replaces the current state with a copy of st.
func (s *InMemoryStore) Restore(st *core.State) {
	if st == nil {
		st = core.NewState()
	}
	st = st.Clone()
	if st.Messages == nil {
		st.Messages = map[string][]core.Message{}
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// AppendMessage appends msg to the topic log. Empty ID and CreatedAt are
// filled in. The returned ref is the only way to grow the message text.
func (s *InMemoryStore) AppendMessage(topicID string, msg core.Message) (core.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topicLocked(topicID); !ok {
		return nil, &core.NotFoundError{Kind: "topic", ID: topicID}
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.state.Messages[topicID] = append(s.state.Messages[topicID], msg)

	return &messageRef{store: s, id: msg.ID, topicID: topicID}, nil
}

// Messages returns a copy of the whole topic log.
func (s *InMemoryStore) Messages(topicID string) ([]core.Message, error) {
	return s.Recent(topicID, 0)
}

// Recent returns the last k messages of a topic, or all when k <= 0.
func (s *InMemoryStore) Recent(topicID string, k int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topicLocked(topicID); !ok {
		return nil, &core.NotFoundError{Kind: "topic", ID: topicID}
	}
	msgs := s.state.Messages[topicID]
	if k > 0 && len(msgs) > k {
		msgs = msgs[len(msgs)-k:]
	}

	return append([]core.Message{}, msgs...), nil
}

// ClearMessages removes every message of a topic.
func (s *InMemoryStore) ClearMessages(topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topicLocked(topicID); !ok {
		return &core.NotFoundError{Kind: "topic", ID: topicID}
	}
	s.state.Messages[topicID] = []core.Message{}

	return nil
}

// messageRef is the owned handle of one streaming message.
type messageRef struct {
	store     *InMemoryStore
	id        string
	topicID   string
	completed bool
}

func (r *messageRef) ID() string      { return r.id }
func (r *messageRef) TopicID() string { return r.topicID }

func (r *messageRef) Append(delta string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.completed {
		return ErrMessageCompleted
	}
	msg := r.store.messageLocked(r.topicID, r.id)
	if msg == nil {
		return &core.NotFoundError{Kind: "message", ID: r.id}
	}
	msg.Text += delta

	return nil
}

func (r *messageRef) Text() string {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if msg := r.store.messageLocked(r.topicID, r.id); msg != nil {
		return msg.Text
	}

	return ""
}

func (r *messageRef) Complete() {
	r.store.mu.Lock()
	r.completed = true
	r.store.mu.Unlock()
}

// messageLocked finds a message scanning from the newest entry, where
// streaming messages live. Caller must hold the lock.
func (s *InMemoryStore) messageLocked(topicID, id string) *core.Message {
	msgs := s.state.Messages[topicID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == id {
			return &msgs[i]
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Settings & orchestrator
// ---------------------------------------------------------------------------

// Settings returns the user settings.
func (s *InMemoryStore) Settings() core.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Settings
}

// UpdateSettings applies a settings patch.
func (s *InMemoryStore) UpdateSettings(p core.SettingsPatch) (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := p.Apply(s.state.Settings)
	if err != nil {
		return core.Settings{}, err
	}
	s.state.Settings = next

	return next, nil
}

// Orchestrator returns the orchestrator persona.
func (s *InMemoryStore) Orchestrator() core.Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Orchestrator
}

// UpdateOrchestrator applies an orchestrator patch.
func (s *InMemoryStore) UpdateOrchestrator(p core.OrchestratorPatch) (core.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := p.Apply(s.state.Orchestrator)
	if err != nil {
		return core.Orchestrator{}, err
	}
	s.state.Orchestrator = next

	return next, nil
}

// ---------------------------------------------------------------------------
// Model services
// ---------------------------------------------------------------------------

// ModelService resolves a model service by id.
func (s *InMemoryStore) ModelService(id string) (core.ModelService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.state.ModelServices, id, serviceKey); i >= 0 {
		return s.state.ModelServices[i], nil
	}

	return core.ModelService{}, &core.NotFoundError{Kind: "model service", ID: id}
}

// ModelServices lists all model services.
func (s *InMemoryStore) ModelServices() []core.ModelService {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]core.ModelService{}, s.state.ModelServices...)
}

// CreateModelService validates and stores svc, assigning an id when empty.
func (s *InMemoryStore) CreateModelService(svc core.ModelService) (core.ModelService, error) {
	if err := svc.Validate(); err != nil {
		return core.ModelService{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == "" {
		svc.ID = core.NewID()
	}
	if indexOf(s.state.ModelServices, svc.ID, serviceKey) >= 0 {
		return core.ModelService{}, &core.ValidationError{Field: "id", Reason: "already exists"}
	}
	s.state.ModelServices = append(s.state.ModelServices, svc)

	return svc, nil
}

// UpdateModelService applies a patch to an existing model service.
func (s *InMemoryStore) UpdateModelService(id string, p core.ModelServicePatch) (core.ModelService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.ModelServices, id, serviceKey)
	if i < 0 {
		return core.ModelService{}, &core.NotFoundError{Kind: "model service", ID: id}
	}
	next, err := p.Apply(s.state.ModelServices[i])
	if err != nil {
		return core.ModelService{}, err
	}
	s.state.ModelServices[i] = next

	return next, nil
}

// DeleteModelService removes a model service. Personas still bound to it
// fail their next turn with core.ServiceNotFoundError.
func (s *InMemoryStore) DeleteModelService(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.ModelServices, id, serviceKey)
	if i < 0 {
		return &core.NotFoundError{Kind: "model service", ID: id}
	}
	s.state.ModelServices = slices.Delete(s.state.ModelServices, i, i+1)

	return nil
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// Agent resolves a regular agent by id.
func (s *InMemoryStore) Agent(id string) (core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.state.Agents, id, agentKey); i >= 0 {
		return s.state.Agents[i], nil
	}

	return core.Agent{}, &core.NotFoundError{Kind: "agent", ID: id}
}

// Agents lists all regular agents.
func (s *InMemoryStore) Agents() []core.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]core.Agent{}, s.state.Agents...)
}

// CreateAgent validates and stores a, assigning an id when empty. Display
// names are unique because the orchestrator selects speakers by name.
func (s *InMemoryStore) CreateAgent(a core.Agent) (core.Agent, error) {
	if a.ID == "" {
		a.ID = core.NewID()
	}
	if err := a.Validate(); err != nil {
		return core.Agent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.state.Agents, a.ID, agentKey) >= 0 {
		return core.Agent{}, &core.ValidationError{Field: "id", Reason: "already exists"}
	}
	if err := s.checkAgentNameLocked(a.ID, a.DisplayName); err != nil {
		return core.Agent{}, err
	}
	s.state.Agents = append(s.state.Agents, a)

	return a, nil
}

// UpdateAgent applies a patch to an existing agent.
func (s *InMemoryStore) UpdateAgent(id string, p core.AgentPatch) (core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Agents, id, agentKey)
	if i < 0 {
		return core.Agent{}, &core.NotFoundError{Kind: "agent", ID: id}
	}
	next, err := p.Apply(s.state.Agents[i])
	if err != nil {
		return core.Agent{}, err
	}
	if err := s.checkAgentNameLocked(id, next.DisplayName); err != nil {
		return core.Agent{}, err
	}
	s.state.Agents[i] = next

	return next, nil
}

// DeleteAgent removes an agent and drops it from every group.
func (s *InMemoryStore) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Agents, id, agentKey)
	if i < 0 {
		return &core.NotFoundError{Kind: "agent", ID: id}
	}
	s.state.Agents = slices.Delete(s.state.Agents, i, i+1)
	for gi := range s.state.Groups {
		g := &s.state.Groups[gi]
		g.MemberAgentIDs = slices.DeleteFunc(g.MemberAgentIDs, func(m string) bool { return m == id })
	}

	return nil
}

func (s *InMemoryStore) checkAgentNameLocked(id, name string) error {
	for _, a := range s.state.Agents {
		if a.ID != id && a.DisplayName == name {
			return &core.ValidationError{Field: "displayName", Reason: "already used by another agent"}
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// Group resolves a group by id.
func (s *InMemoryStore) Group(id string) (core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.state.Groups, id, groupKey); i >= 0 {
		return cloneGroup(s.state.Groups[i]), nil
	}

	return core.Group{}, &core.NotFoundError{Kind: "group", ID: id}
}

// Groups lists all groups.
func (s *InMemoryStore) Groups() []core.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Group, len(s.state.Groups))
	for i, g := range s.state.Groups {
		out[i] = cloneGroup(g)
	}

	return out
}

// CreateGroup validates and stores g. Every member must be an existing agent.
func (s *InMemoryStore) CreateGroup(g core.Group) (core.Group, error) {
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	g = cloneGroup(g)

	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = core.NewID()
	}
	if indexOf(s.state.Groups, g.ID, groupKey) >= 0 {
		return core.Group{}, &core.ValidationError{Field: "id", Reason: "already exists"}
	}
	if err := s.checkMembersLocked(g.MemberAgentIDs); err != nil {
		return core.Group{}, err
	}
	s.state.Groups = append(s.state.Groups, g)

	return cloneGroup(g), nil
}

// UpdateGroup applies a patch to an existing group.
func (s *InMemoryStore) UpdateGroup(id string, p core.GroupPatch) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Groups, id, groupKey)
	if i < 0 {
		return core.Group{}, &core.NotFoundError{Kind: "group", ID: id}
	}
	next, err := p.Apply(cloneGroup(s.state.Groups[i]))
	if err != nil {
		return core.Group{}, err
	}
	if err := s.checkMembersLocked(next.MemberAgentIDs); err != nil {
		return core.Group{}, err
	}
	s.state.Groups[i] = next

	return cloneGroup(next), nil
}

// DeleteGroup removes a group with all its topics and their messages.
func (s *InMemoryStore) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Groups, id, groupKey)
	if i < 0 {
		return &core.NotFoundError{Kind: "group", ID: id}
	}
	s.state.Groups = slices.Delete(s.state.Groups, i, i+1)
	s.state.Topics = slices.DeleteFunc(s.state.Topics, func(t core.Topic) bool {
		if t.GroupID != id {
			return false
		}
		s.dropTopicLocked(t.ID)
		return true
	})

	return nil
}

func (s *InMemoryStore) checkMembersLocked(ids []string) error {
	for _, m := range ids {
		if indexOf(s.state.Agents, m, agentKey) < 0 {
			return &core.NotFoundError{Kind: "agent", ID: m}
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// Topic resolves a topic by id.
func (s *InMemoryStore) Topic(id string) (core.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.topicLocked(id); ok {
		return t, nil
	}

	return core.Topic{}, &core.NotFoundError{Kind: "topic", ID: id}
}

// Topics lists the topics of a group, or all topics when groupID is empty.
func (s *InMemoryStore) Topics(groupID string) []core.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Topic, 0, len(s.state.Topics))
	for _, t := range s.state.Topics {
		if groupID == "" || t.GroupID == groupID {
			out = append(out, t)
		}
	}

	return out
}

// CreateTopic opens a new topic in an existing group. An empty name is
// derived later from the first user message.
func (s *InMemoryStore) CreateTopic(groupID, name string) (core.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.state.Groups, groupID, groupKey) < 0 {
		return core.Topic{}, &core.NotFoundError{Kind: "group", ID: groupID}
	}
	t := core.Topic{ID: core.NewID(), Name: name, GroupID: groupID, CreatedAt: s.now()}
	s.state.Topics = append(s.state.Topics, t)
	s.state.Messages[t.ID] = []core.Message{}

	return t, nil
}

// UpdateTopic applies a patch to an existing topic.
func (s *InMemoryStore) UpdateTopic(id string, p core.TopicPatch) (core.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Topics, id, topicKey)
	if i < 0 {
		return core.Topic{}, &core.NotFoundError{Kind: "topic", ID: id}
	}
	next, err := p.Apply(s.state.Topics[i])
	if err != nil {
		return core.Topic{}, err
	}
	s.state.Topics[i] = next

	return next, nil
}

// NameTopicIfEmpty sets the topic name only if it has none yet and reports
// whether it did.
func (s *InMemoryStore) NameTopicIfEmpty(id, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Topics, id, topicKey)
	if i < 0 {
		return false, &core.NotFoundError{Kind: "topic", ID: id}
	}
	if s.state.Topics[i].Name != "" || name == "" {
		return false, nil
	}
	s.state.Topics[i].Name = name

	return true, nil
}

// DeleteTopic removes a topic and its messages.
func (s *InMemoryStore) DeleteTopic(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Topics, id, topicKey)
	if i < 0 {
		return &core.NotFoundError{Kind: "topic", ID: id}
	}
	s.state.Topics = slices.Delete(s.state.Topics, i, i+1)
	s.dropTopicLocked(id)

	return nil
}

// CurrentTopicID returns the selected topic id, empty when none.
func (s *InMemoryStore) CurrentTopicID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.CurrentTopicID
}

// SelectTopic makes id the current topic.
func (s *InMemoryStore) SelectTopic(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topicLocked(id); !ok {
		return &core.NotFoundError{Kind: "topic", ID: id}
	}
	s.state.CurrentTopicID = id

	return nil
}

func (s *InMemoryStore) topicLocked(id string) (core.Topic, bool) {
	if i := indexOf(s.state.Topics, id, topicKey); i >= 0 {
		return s.state.Topics[i], true
	}

	return core.Topic{}, false
}

func (s *InMemoryStore) dropTopicLocked(id string) {
	delete(s.state.Messages, id)
	if s.state.CurrentTopicID == id {
		s.state.CurrentTopicID = ""
	}
}

func indexOf[T any](items []T, id string, key func(T) string) int {
	return slices.IndexFunc(items, func(it T) bool { return key(it) == id })
}

func serviceKey(m core.ModelService) string { return m.ID }

func agentKey(a core.Agent) string { return a.ID }
func groupKey(g core.Group) string { return g.ID }
func topicKey(t core.Topic) string { return t.ID }

func cloneGroup(g core.Group) core.Group {
	g.MemberAgentIDs = append([]string{}, g.MemberAgentIDs...)
	return g
}
