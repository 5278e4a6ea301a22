// Package chatmesh is the façade of a multi-agent group chat: a human talks
// to configurable agents inside topics that belong to chat groups, and an
// LLM-driven orchestrator decides which agent answers next.
//
// Most applications interact with this package by:
//  1. Creating a Mesh via New (optionally overriding the model, persistence
//     and logging)
//  2. Loading persisted state with Load
//  3. Managing model services, agents, groups and topics through the CRUD
//     methods
//  4. Sending user messages with SendUserMessage and cancelling runs with
//     CancelActiveOrchestration
//
// The façade delegates orchestration to engine.Engine and conversation state
// to session.InMemoryStore. Every mutation is flushed to the configured
// core.Persister; persistence failures are logged and never fatal.
package chatmesh

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/engine"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/model/anthropic"
	"github.com/hupe1980/chatmesh/model/openai"
	"github.com/hupe1980/chatmesh/session"
)

// ErrNoTopicSelected is returned by SendUserMessage without a current topic.
var ErrNoTopicSelected = errors.New("no topic selected")

// Options configures the Mesh instance.
type Options struct {
	// Model serves every inference call. Defaults to DefaultModel.
	Model model.Model

	// Store holds the conversation state. Defaults to an empty in-memory store.
	Store *session.InMemoryStore

	// Persister loads and saves snapshots. Nil disables persistence.
	Persister core.Persister

	// Observer receives message and state updates for presentation.
	Observer core.Observer

	// MaxTurns caps agent turns per run (0 = unlimited).
	MaxTurns int

	// MaxTokens caps the reply length of every call (0 = provider default).
	MaxTokens int64

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the store and the engine.
type Mesh struct {
	store     *session.InMemoryStore
	engine    *engine.Engine
	persister core.Persister
	observer  core.Observer
	logger    logging.Logger
}

// DefaultModel routes requests to the OpenAI-compatible client unless a
// model service asks for the Anthropic provider.
func DefaultModel(logger logging.Logger, client *http.Client) *model.Router {
	if client == nil {
		client = http.DefaultClient
	}

	return model.NewRouter(
		model.WithProvider(model.ProviderOpenAI, openai.NewModel(func(o *openai.Options) {
			o.HTTPClient = client
			o.Logger = logger
		})),
		model.WithProvider(model.ProviderAnthropic, anthropic.NewModel(func(o *anthropic.Options) {
			o.HTTPClient = client
			o.Logger = logger
		})),
		model.WithDefault(model.ProviderOpenAI),
	)
}

// New creates a new Mesh instance with optional overrides.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MaxTurns: engine.DefaultMaxTurns,
		Logger:   logging.NoOpLogger{},
		Observer: core.NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Model == nil {
		opts.Model = DefaultModel(opts.Logger, nil)
	}

	eng := engine.New(opts.Store, opts.Model, func(o *engine.Options) {
		o.MaxTurns = opts.MaxTurns
		o.MaxTokens = opts.MaxTokens
		o.Logger = opts.Logger
		o.Observer = opts.Observer
		o.Persister = opts.Persister
	})

	return &Mesh{
		store:     opts.Store,
		engine:    eng,
		persister: opts.Persister,
		observer:  opts.Observer,
		logger:    opts.Logger,
	}
}

// Store exposes the conversation store for read access.
func (m *Mesh) Store() *session.InMemoryStore { return m.store }

// Engine exposes the orchestration engine.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// Load restores the persisted state. It reports whether a state was found.
func (m *Mesh) Load() (bool, error) {
	if m.persister == nil {
		return false, nil
	}
	st, err := m.persister.Load()
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	m.store.Restore(st)
	m.logger.Info("state restored", "topics", len(st.Topics), "agents", len(st.Agents))

	return true, nil
}

// Save flushes the current state. Failures are logged and returned.
func (m *Mesh) Save() error {
	if m.persister == nil {
		return nil
	}
	if err := m.persister.Save(m.store.Snapshot()); err != nil {
		m.logger.Warn("persisting state failed", "error", err)
		return err
	}

	return nil
}

// SendUserMessage posts text to the current topic and runs the orchestrator.
func (m *Mesh) SendUserMessage(ctx context.Context, text string) (engine.Outcome, error) {
	topicID := m.store.CurrentTopicID()
	if topicID == "" {
		return engine.Outcome{State: engine.StateIdle}, ErrNoTopicSelected
	}

	return m.SendToTopic(ctx, topicID, text)
}

// SendToTopic reserves the orchestration session, records the user
// message, names the topic if it has no name yet, then blocks while the
// orchestrator runs. A send while another run is active is rejected with
// engine.ErrSessionActive before anything is recorded.
func (m *Mesh) SendToTopic(ctx context.Context, topicID, text string) (engine.Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return engine.Outcome{State: engine.StateIdle}, &core.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	return m.engine.RunAfter(ctx, topicID, func() error {
		return m.recordUserMessage(topicID, text)
	})
}

func (m *Mesh) recordUserMessage(topicID, text string) error {
	userName := m.store.Settings().UserName
	ref, err := m.store.AppendMessage(topicID, core.Message{
		AuthorName: userName,
		Kind:       core.MessageUser,
		Text:       text,
	})
	if err != nil {
		return err
	}
	ref.Complete()

	u := core.NewUpdate(core.UpdateMessageCreated, topicID)
	u.MessageID = ref.ID()
	u.Author = userName
	u.Text = text
	m.observer.Notify(u)

	name := core.DeriveTopicName(text)
	if renamed, err := m.store.NameTopicIfEmpty(topicID, name); err == nil && renamed {
		u := core.NewUpdate(core.UpdateTopicRenamed, topicID)
		u.Delta = name
		m.observer.Notify(u)
	}
	_ = m.Save()

	return nil
}

// CancelActiveOrchestration aborts the running orchestration, if any. It is
// safe to call from any goroutine and reports whether a run was cancelled.
func (m *Mesh) CancelActiveOrchestration() bool {
	return m.engine.Cancel()
}

// SelectTopic makes id the current topic.
func (m *Mesh) SelectTopic(id string) error {
	return m.persistOnSuccess(m.store.SelectTopic(id))
}

// Messages returns a topic's log.
func (m *Mesh) Messages(topicID string) ([]core.Message, error) {
	return m.store.Messages(topicID)
}

// ClearTopic removes all messages of a topic.
func (m *Mesh) ClearTopic(topicID string) error {
	if err := m.guardTopic(topicID); err != nil {
		return err
	}

	return m.persistOnSuccess(m.store.ClearMessages(topicID))
}

// CreateModelService adds a model service.
func (m *Mesh) CreateModelService(svc core.ModelService) (core.ModelService, error) {
	return persisted(m, func() (core.ModelService, error) { return m.store.CreateModelService(svc) })
}

// UpdateModelService patches a model service.
func (m *Mesh) UpdateModelService(id string, p core.ModelServicePatch) (core.ModelService, error) {
	return persisted(m, func() (core.ModelService, error) { return m.store.UpdateModelService(id, p) })
}

// DeleteModelService removes a model service.
func (m *Mesh) DeleteModelService(id string) error {
	return m.persistOnSuccess(m.store.DeleteModelService(id))
}

// CreateAgent adds a regular agent.
func (m *Mesh) CreateAgent(a core.Agent) (core.Agent, error) {
	return persisted(m, func() (core.Agent, error) { return m.store.CreateAgent(a) })
}

// UpdateAgent patches an agent.
func (m *Mesh) UpdateAgent(id string, p core.AgentPatch) (core.Agent, error) {
	return persisted(m, func() (core.Agent, error) { return m.store.UpdateAgent(id, p) })
}

// DeleteAgent removes an agent from the store and from every group.
func (m *Mesh) DeleteAgent(id string) error {
	return m.persistOnSuccess(m.store.DeleteAgent(id))
}

// CreateGroup adds a group.
func (m *Mesh) CreateGroup(g core.Group) (core.Group, error) {
	return persisted(m, func() (core.Group, error) { return m.store.CreateGroup(g) })
}

// UpdateGroup patches a group.
func (m *Mesh) UpdateGroup(id string, p core.GroupPatch) (core.Group, error) {
	return persisted(m, func() (core.Group, error) { return m.store.UpdateGroup(id, p) })
}

// DeleteGroup removes a group with its topics. Rejected while one of its
// topics is being orchestrated.
func (m *Mesh) DeleteGroup(id string) error {
	if topicID, active := m.engine.Active(); active {
		if t, err := m.store.Topic(topicID); err == nil && t.GroupID == id {
			return engine.ErrSessionActive
		}
	}

	return m.persistOnSuccess(m.store.DeleteGroup(id))
}

// CreateTopic opens a topic in a group and selects it.
func (m *Mesh) CreateTopic(groupID, name string) (core.Topic, error) {
	return persisted(m, func() (core.Topic, error) {
		t, err := m.store.CreateTopic(groupID, name)
		if err != nil {
			return t, err
		}
		return t, m.store.SelectTopic(t.ID)
	})
}

// UpdateTopic patches a topic.
func (m *Mesh) UpdateTopic(id string, p core.TopicPatch) (core.Topic, error) {
	return persisted(m, func() (core.Topic, error) { return m.store.UpdateTopic(id, p) })
}

// DeleteTopic removes a topic. Rejected while it is being orchestrated.
func (m *Mesh) DeleteTopic(id string) error {
	if err := m.guardTopic(id); err != nil {
		return err
	}

	return m.persistOnSuccess(m.store.DeleteTopic(id))
}

// UpdateSettings patches the user settings.
func (m *Mesh) UpdateSettings(p core.SettingsPatch) (core.Settings, error) {
	return persisted(m, func() (core.Settings, error) { return m.store.UpdateSettings(p) })
}

// UpdateOrchestrator patches the orchestrator persona.
func (m *Mesh) UpdateOrchestrator(p core.OrchestratorPatch) (core.Orchestrator, error) {
	return persisted(m, func() (core.Orchestrator, error) { return m.store.UpdateOrchestrator(p) })
}

func (m *Mesh) guardTopic(topicID string) error {
	if active, ok := m.engine.Active(); ok && active == topicID {
		return engine.ErrSessionActive
	}

	return nil
}

func (m *Mesh) persistOnSuccess(err error) error {
	if err != nil {
		return err
	}
	_ = m.Save()

	return nil
}

func persisted[T any](m *Mesh, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil {
		return v, err
	}
	_ = m.Save()

	return v, nil
}
