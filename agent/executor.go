package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/util"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/token"
)

// ErrorSuffixFormat is appended to a partially streamed message when its
// stream fails.
const ErrorSuffixFormat = "\n\n**Error:** %s"

// Options configures an Executor.
type Options struct {
	Logger    logging.Logger
	Observer  core.Observer
	Persister core.Persister
	// MaxTokens caps the reply length of every call; 0 uses the provider
	// default.
	MaxTokens int64
}

// Executor runs one persona turn: it resolves the model service, streams the
// reply into the topic and persists the result.
type Executor struct {
	store     core.Store
	model     model.Model
	logger    logging.Logger
	observer  core.Observer
	persister core.Persister
	maxTokens int64
}

// TurnResult is the outcome of a turn that produced output. Message is nil
// when the model replied with no content.
type TurnResult struct {
	FullText string
	Message  core.MessageRef
}

// NewExecutor creates a new executor over a store and a model.
func NewExecutor(store core.Store, m model.Model, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Observer: core.NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{
		store:     store,
		model:     m,
		logger:    opts.Logger,
		observer:  opts.Observer,
		persister: opts.Persister,
		maxTokens: opts.MaxTokens,
	}
}

// Resolve returns the call config and effective context window of a persona.
// Configuration problems are reported before any network activity.
func (e *Executor) Resolve(p core.Persona) (model.Config, int, error) {
	if p.ServiceID() == "" {
		return model.Config{}, 0, &core.ServiceNotFoundError{Persona: p.Name()}
	}
	svc, err := e.store.ModelService(p.ServiceID())
	if err != nil {
		if core.IsNotFound(err) {
			return model.Config{}, 0, &core.ServiceNotFoundError{Persona: p.Name(), ServiceID: p.ServiceID()}
		}
		return model.Config{}, 0, err
	}

	cfg := svc.Config(e.store.Settings())
	if cfg.APIKey == "" {
		return model.Config{}, 0, &core.MissingCredentialError{ServiceID: svc.ID, ServiceName: svc.Name}
	}
	cfg.MaxTokens = e.maxTokens

	return cfg, core.WindowFor(p, svc), nil
}

// ExecuteTurn streams one reply of persona into topicID. history is the
// current topic log; it is windowed to the persona's context size here.
//
// On success the reply message is completed and persisted. On a transport
// failure the error is rendered into the conversation and returned. A
// cancelled turn keeps its partial text, renders nothing and returns an
// error for which model.IsAbort is true.
func (e *Executor) ExecuteTurn(ctx context.Context, persona core.Persona, topicID string, history []core.Message) (*TurnResult, error) {
	cfg, window, err := e.Resolve(persona)
	if err != nil {
		return nil, err
	}

	req := model.Request{
		Config:       cfg,
		SystemPrompt: e.systemPrompt(persona),
		History:      BuildHistory(history, persona.Name(), window),
	}

	stop := logging.StartTimer(e.logger, "agent turn")
	stream := e.model.Stream(ctx, req)
	defer stream.Close()

	var ref core.MessageRef
	for stream.Next() {
		delta := stream.Current()
		if delta == "" {
			continue
		}
		if ref == nil {
			ref, err = e.store.AppendMessage(topicID, core.Message{
				AuthorName: persona.Name(),
				Kind:       core.MessageAgent,
				Text:       delta,
			})
			if err != nil {
				return nil, fmt.Errorf("creating reply message: %w", err)
			}
			e.notify(core.UpdateMessageCreated, ref, persona.Name(), delta)
			continue
		}
		if err := ref.Append(delta); err != nil {
			return nil, fmt.Errorf("appending delta: %w", err)
		}
		e.notify(core.UpdateMessageDelta, ref, persona.Name(), delta)
	}

	result := &TurnResult{Message: ref}
	if ref != nil {
		result.FullText = ref.Text()
	}
	streamErr := stream.Err()
	tokens := token.EstimateAll(req.SystemPrompt, result.FullText) + token.EstimateMessages(req.History)
	elapsed := stop()

	switch {
	case streamErr == nil:
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, true, nil)
	case model.IsAbort(streamErr):
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, false, nil)
	default:
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, false, streamErr)
		if ref, err = e.renderError(topicID, ref, streamErr); err != nil {
			return nil, errors.Join(streamErr, err)
		}
		result.Message = ref
	}

	if ref != nil {
		ref.Complete()
		e.notify(core.UpdateMessageCompleted, ref, persona.Name(), "")
	}
	e.persist()

	if streamErr != nil {
		return result, streamErr
	}

	return result, nil
}

// Query runs a call whose output is consumed by the caller instead of
// being written to the conversation (orchestrator selection).
func (e *Executor) Query(ctx context.Context, persona core.Persona, systemPrompt string, history []model.Message) (string, error) {
	cfg, _, err := e.Resolve(persona)
	if err != nil {
		return "", err
	}

	stop := logging.StartTimer(e.logger, "selection call")
	text, err := model.Collect(e.model.Stream(ctx, model.Request{
		Config:       cfg,
		SystemPrompt: systemPrompt,
		History:      history,
	}))
	tokens := token.EstimateAll(systemPrompt, text) + token.EstimateMessages(history)
	elapsed := stop()

	switch {
	case err == nil:
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, true, nil)
	case model.IsAbort(err):
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, false, nil)
	default:
		logging.LogLLMCall(e.logger, cfg.ModelID, tokens, elapsed, false, err)
	}

	return text, err
}

// promptData is available to persona system prompts as template data.
type promptData struct {
	UserName string
	Name     string
}

// systemPrompt renders the persona prompt as a template. A prompt that fails
// to render is sent as written.
func (e *Executor) systemPrompt(p core.Persona) string {
	userName := e.store.Settings().UserName
	if userName == "" {
		userName = core.DefaultUserName
	}

	out, err := util.RenderTemplate(p.Prompt(), promptData{UserName: userName, Name: p.Name()})
	if err != nil {
		e.logger.Warn("system prompt template failed", "persona", p.Name(), "error", err)
		return p.Prompt()
	}

	return out
}

// renderError suffixes the error onto the partial reply, or appends a
// standalone error message when nothing was streamed yet.
func (e *Executor) renderError(topicID string, ref core.MessageRef, cause error) (core.MessageRef, error) {
	if ref != nil {
		suffix := fmt.Sprintf(ErrorSuffixFormat, cause.Error())
		if err := ref.Append(suffix); err != nil {
			return ref, err
		}
		e.notify(core.UpdateMessageDelta, ref, "", suffix)

		return ref, nil
	}

	ref, err := e.store.AppendMessage(topicID, core.Message{
		AuthorName: core.ErrorAuthor,
		Kind:       core.MessageError,
		Text:       cause.Error(),
	})
	if err != nil {
		return nil, err
	}
	e.notify(core.UpdateMessageCreated, ref, core.ErrorAuthor, cause.Error())

	return ref, nil
}

func (e *Executor) notify(kind core.UpdateKind, ref core.MessageRef, author, delta string) {
	u := core.NewUpdate(kind, ref.TopicID())
	u.MessageID = ref.ID()
	u.Author = author
	u.Delta = delta
	u.Text = ref.Text()
	e.observer.Notify(u)
}

// persist flushes a snapshot. Failures are logged and never fail the turn.
func (e *Executor) persist() {
	if e.persister == nil {
		return
	}
	if err := e.persister.Save(e.store.Snapshot()); err != nil {
		e.logger.Warn("persisting state failed", "error", err)
	}
}
