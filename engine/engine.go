package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/chatmesh/agent"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/token"
)

// State is the orchestration state of a run.
type State string

const (
	StateIdle        State = "idle"
	StateSelecting   State = "selecting"
	StateDispatching State = "dispatching"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// DefaultMaxTurns caps the agent turns of one run.
const DefaultMaxTurns = 20

// Diagnostic texts written into the topic as system messages.
const (
	AbortedText   = "request aborted"
	TurnLimitText = "turn limit reached, waiting for user input"
)

// ErrSessionActive is returned by Run while another run is in progress.
var ErrSessionActive = errors.New("an orchestration session is already active")

// Options configures an Engine.
type Options struct {
	// MaxTurns limits dispatched agent turns per run. 0 means unlimited.
	MaxTurns int

	// MaxTokens caps the reply length of every call; 0 uses the provider
	// default.
	MaxTokens int64

	// Logger defaults to a NoOp logger.
	Logger logging.Logger

	// Observer receives state changes and message updates.
	Observer core.Observer

	// Persister flushes the store after every turn and diagnostic. Optional.
	Persister core.Persister
}

// Outcome summarizes a finished run.
type Outcome struct {
	State      State
	Dispatched int
	Speakers   []string
}

// orchestrationSession is the single live run.
type orchestrationSession struct {
	topicID string
	groupID string
	state   State
	cancel  context.CancelFunc
	logger  logging.Logger
}

// Engine drives orchestration runs over a conversation store.
type Engine struct {
	store     core.Store
	executor  *agent.Executor
	logger    logging.Logger
	observer  core.Observer
	persister core.Persister
	maxTurns  int

	mu     sync.Mutex
	active *orchestrationSession
}

// New creates an engine. Every inference call goes through m.
func New(store core.Store, m model.Model, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxTurns: DefaultMaxTurns,
		Logger:   logging.NoOpLogger{},
		Observer: core.NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	exec := agent.NewExecutor(store, m, func(o *agent.Options) {
		o.Logger = opts.Logger
		o.Observer = opts.Observer
		o.Persister = opts.Persister
		o.MaxTokens = opts.MaxTokens
	})

	return &Engine{
		store:     store,
		executor:  exec,
		logger:    opts.Logger,
		observer:  opts.Observer,
		persister: opts.Persister,
		maxTurns:  opts.MaxTurns,
	}
}

// Active reports whether a run is in progress and for which topic.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return "", false
	}

	return e.active.topicID, true
}

// State returns the state of the active run, or StateIdle.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return StateIdle
	}

	return e.active.state
}

// Cancel aborts the active run. It reports whether there was one; calling
// it with no active run is a no-op.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return false
	}
	e.active.cancel()
	e.logger.Info("orchestration cancel requested", "topic_id", e.active.topicID)

	return true
}

// Run orchestrates replies to the latest message of a topic. The caller is
// expected to have appended the user message already. Run blocks until the
// run ends; the returned error is non-nil only when the run could not start
// or ended in StateFailed.
func (e *Engine) Run(ctx context.Context, topicID string) (Outcome, error) {
	return e.RunAfter(ctx, topicID, nil)
}

// RunAfter is Run with a record step. The session is reserved first, then
// record runs (typically appending the user message) and the loop starts.
// When another run is active ErrSessionActive is returned and record is
// never called. A record error ends the run before any model call.
func (e *Engine) RunAfter(ctx context.Context, topicID string, record func() error) (Outcome, error) {
	topic, err := e.store.Topic(topicID)
	if err != nil {
		return Outcome{State: StateIdle}, err
	}
	group, err := e.store.Group(topic.GroupID)
	if err != nil {
		return Outcome{State: StateIdle}, err
	}

	ctx, sess, err := e.begin(ctx, topic)
	if err != nil {
		return Outcome{State: StateIdle}, err
	}
	defer e.end(sess)

	if record != nil {
		if err := record(); err != nil {
			return Outcome{State: StateIdle}, err
		}
	}

	sess.logger.Info("orchestration started", "group_id", group.ID, "members", len(group.MemberAgentIDs))
	done := logging.StartTimer(sess.logger, "orchestration")

	var out Outcome
	if group.IsPrivate() {
		out, err = e.runPrivate(ctx, sess, group)
	} else {
		out, err = e.runGroup(ctx, sess, group)
	}
	e.setState(sess, out.State)
	sess.logger.Info("orchestration finished", "state", string(out.State), "dispatched", out.Dispatched, "duration", done())

	return out, err
}

func (e *Engine) begin(ctx context.Context, topic core.Topic) (context.Context, *orchestrationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return nil, nil, ErrSessionActive
	}
	ctx, cancel := context.WithCancel(ctx)
	e.active = &orchestrationSession{
		topicID: topic.ID,
		groupID: topic.GroupID,
		state:   StateIdle,
		cancel:  cancel,
		logger:  logging.ForTopic(e.logger, topic.ID),
	}

	return ctx, e.active, nil
}

func (e *Engine) end(sess *orchestrationSession) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess.cancel()
	if e.active == sess {
		e.active = nil
	}
}

func (e *Engine) setState(sess *orchestrationSession, st State) {
	e.mu.Lock()
	changed := sess.state != st
	sess.state = st
	e.mu.Unlock()

	if changed {
		u := core.NewUpdate(core.UpdateStateChanged, sess.topicID)
		u.State = string(st)
		e.observer.Notify(u)
	}
}

// runPrivate answers with the single member, skipping selection.
func (e *Engine) runPrivate(ctx context.Context, sess *orchestrationSession, group core.Group) (Outcome, error) {
	member, err := e.store.Agent(group.MemberAgentIDs[0])
	if err != nil {
		return e.fail(sess, Outcome{}, err)
	}

	return e.dispatch(ctx, sess, Outcome{}, member)
}

// runGroup is the Selecting/Dispatching loop.
func (e *Engine) runGroup(ctx context.Context, sess *orchestrationSession, group core.Group) (Outcome, error) {
	var out Outcome

	members, err := e.members(group)
	if err != nil {
		return e.fail(sess, out, err)
	}
	if len(members) == 0 {
		out.State = StateIdle
		return out, nil
	}

	limiter := core.NewTurnLimiter(e.maxTurns)
	for {
		if ctx.Err() != nil {
			return e.abort(sess, out)
		}
		if limiter.Remaining() == 0 {
			e.diagnose(sess.topicID, TurnLimitText)
			out.State = StateIdle
			return out, nil
		}

		e.setState(sess, StateSelecting)
		speaker, err := e.selectSpeaker(ctx, sess, members)
		if err != nil {
			if model.IsAbort(err) {
				return e.abort(sess, out)
			}
			return e.fail(sess, out, err)
		}
		if speaker == nil {
			out.State = StateIdle
			return out, nil
		}

		if err := limiter.Increment(); err != nil {
			e.diagnose(sess.topicID, TurnLimitText)
			out.State = StateIdle
			return out, nil
		}
		if ctx.Err() != nil {
			return e.abort(sess, out)
		}

		out, err = e.dispatch(ctx, sess, out, *speaker)
		if err != nil || out.State != StateIdle {
			return out, err
		}
	}
}

// members resolves the member agents in group order. Stale member ids are
// skipped and logged.
func (e *Engine) members(group core.Group) ([]core.Agent, error) {
	members := make([]core.Agent, 0, len(group.MemberAgentIDs))
	for _, id := range group.MemberAgentIDs {
		a, err := e.store.Agent(id)
		if err != nil {
			if core.IsNotFound(err) {
				e.logger.Warn("skipping stale group member", "group_id", group.ID, "agent_id", id)
				continue
			}
			return nil, err
		}
		members = append(members, a)
	}

	return members, nil
}

// selectSpeaker runs the selection call and matches the trimmed reply
// against member display names, case-sensitively. A nil agent means nobody
// matched.
func (e *Engine) selectSpeaker(ctx context.Context, sess *orchestrationSession, members []core.Agent) (*core.Agent, error) {
	orch := e.store.Orchestrator()
	window, err := e.orchestratorWindow(orch)
	if err != nil {
		return nil, err
	}
	history, err := e.store.Messages(sess.topicID)
	if err != nil {
		return nil, err
	}

	prompt, err := renderMetaPrompt(orch, members, agent.Window(history, window))
	if err != nil {
		return nil, err
	}

	reply, err := e.executor.Query(ctx, orch, prompt, nil)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(reply)
	for i := range members {
		if members[i].DisplayName == name {
			sess.logger.Debug("speaker selected", "speaker", name)
			return &members[i], nil
		}
	}
	sess.logger.Info("no speaker selected", "reply", truncate(name, 80))

	return nil, nil
}

func (e *Engine) orchestratorWindow(orch core.Orchestrator) (int, error) {
	_, window, err := e.executor.Resolve(orch)

	return window, err
}

// dispatch runs one agent turn. On success the outcome state is Idle so the
// group loop continues; private runs return it as is.
func (e *Engine) dispatch(ctx context.Context, sess *orchestrationSession, out Outcome, speaker core.Agent) (Outcome, error) {
	e.setState(sess, StateDispatching)

	history, err := e.store.Messages(sess.topicID)
	if err != nil {
		return e.fail(sess, out, err)
	}

	res, err := e.executor.ExecuteTurn(ctx, speaker, sess.topicID, history)
	out.Dispatched++
	out.Speakers = append(out.Speakers, speaker.DisplayName)

	tokens := 0
	if res != nil {
		tokens = token.Estimate(res.FullText)
	}
	logging.LogTurn(sess.logger, speaker.DisplayName, out.Dispatched, tokens, err)

	switch {
	case err == nil:
		out.State = StateIdle
		return out, nil
	case model.IsAbort(err):
		return e.abort(sess, out)
	case core.IsConfigError(err):
		// Nothing was written for configuration problems; tell the user.
		return e.fail(sess, out, err)
	default:
		// The executor already rendered the transport error into the topic.
		out.State = StateFailed
		return out, err
	}
}

func (e *Engine) abort(sess *orchestrationSession, out Outcome) (Outcome, error) {
	e.diagnose(sess.topicID, AbortedText)
	out.State = StateCancelled

	return out, nil
}

func (e *Engine) fail(sess *orchestrationSession, out Outcome, err error) (Outcome, error) {
	e.diagnose(sess.topicID, err.Error())
	out.State = StateFailed

	return out, err
}

// diagnose appends a completed system message to the topic and persists.
// Failures are logged only; the run outcome is already decided.
func (e *Engine) diagnose(topicID, text string) {
	ref, err := e.store.AppendMessage(topicID, core.Message{
		AuthorName: core.SystemAuthor,
		Kind:       core.MessageSystem,
		Text:       text,
	})
	if err != nil {
		e.logger.Warn("appending diagnostic failed", "topic_id", topicID, "error", err)
		return
	}
	ref.Complete()

	u := core.NewUpdate(core.UpdateMessageCreated, topicID)
	u.MessageID = ref.ID()
	u.Author = core.SystemAuthor
	u.Text = text
	e.observer.Notify(u)

	if e.persister != nil {
		if err := e.persister.Save(e.store.Snapshot()); err != nil {
			e.logger.Warn("persisting state failed", "error", fmt.Errorf("after diagnostic: %w", err))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n]) + "..."
}
