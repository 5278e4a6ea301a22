package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/testutil"
	"github.com/hupe1980/chatmesh/model"
)

func newEngine(f *testutil.Fixture, llm model.Model, optFns ...func(o *Options)) *Engine {
	return New(f.Store, llm, optFns...)
}

func lastMessage(t *testing.T, f *testutil.Fixture) core.Message {
	t.Helper()
	msgs := f.Messages(t)
	require.NotEmpty(t, msgs)

	return msgs[len(msgs)-1]
}

func TestRun_ExactNameDispatchesOnce(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	llm := model.NewMockModel("mock").
		AddStream("Alice").
		AddStream("Hel", "lo").
		AddStream(NoSpeaker)
	rec := &testutil.Recorder{}

	out, err := newEngine(f, llm, func(o *Options) { o.Observer = rec }).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)

	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 1, out.Dispatched)
	assert.Equal(t, []string{"Alice"}, out.Speakers)
	assert.Equal(t, 3, llm.Calls())

	msgs := f.Messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Alice", msgs[1].AuthorName)
	assert.Equal(t, "Hello", msgs[1].Text)

	assert.Equal(t, []string{"selecting", "dispatching", "selecting", "idle"}, rec.States())
}

func TestRun_ReplyIsTrimmed(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	llm := model.NewMockModel("mock").
		AddStream("  Bo", "b\n").
		AddStream("hey").
		AddStream("")

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, out.Speakers)
}

func TestRun_NoMatchStops(t *testing.T) {
	for _, reply := range []string{"alice", "Alice.", "Orchestrator", "", NoSpeaker} {
		t.Run(reply, func(t *testing.T) {
			f := testutil.NewFixture(t, "Alice", "Bob")
			f.AddUserMessage(t, "hi")
			llm := model.NewMockModel("mock").AddStream(reply)

			out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
			require.NoError(t, err)
			assert.Equal(t, StateIdle, out.State)
			assert.Equal(t, 0, out.Dispatched)
			assert.Equal(t, 1, llm.Calls())
			assert.Len(t, f.Messages(t), 1)
		})
	}
}

func TestRun_ChainsSpeakers(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "debate")

	llm := model.NewMockModel("mock").
		AddStream("Alice").AddStream("pro").
		AddStream("Bob").AddStream("contra").
		AddStream(NoSpeaker)

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, out.Speakers)

	// Bob sees Alice's turn as a prefixed user message.
	bobReq := llm.Requests()[3]
	require.NotEmpty(t, bobReq.History)
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "Alice: pro"}, bobReq.History[len(bobReq.History)-1])
}

func TestRun_MetaPrompt(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi there")

	llm := model.NewMockModel("mock").AddStream(NoSpeaker)
	_, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)

	req := llm.Requests()[0]
	assert.Empty(t, req.History)
	assert.Contains(t, req.SystemPrompt, core.DefaultOrchestratorPrompt)
	assert.Contains(t, req.SystemPrompt, "- Alice\n- Bob\n")
	assert.Contains(t, req.SystemPrompt, "<<Alice>>\nYou are Alice.\n<</Alice>>")
	assert.Contains(t, req.SystemPrompt, "User: hi there")
	assert.Contains(t, req.SystemPrompt, "answer NONE")
}

func TestRun_MaxTurnsCap(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "go")

	llm := model.NewMockModel("mock").
		AddStream("Alice").AddStream("1").
		AddStream("Bob").AddStream("2").
		AddStream("Alice").AddStream("3")

	out, err := newEngine(f, llm, func(o *Options) { o.MaxTurns = 2 }).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)

	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 2, out.Dispatched)
	assert.Equal(t, 4, llm.Calls())

	last := lastMessage(t, f)
	assert.Equal(t, core.MessageSystem, last.Kind)
	assert.Equal(t, TurnLimitText, last.Text)
}

func TestRun_PrivateModeSkipsSelection(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	f.AddUserMessage(t, "hi")

	llm := model.NewMockModel("mock").AddStream("hello")

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 1, out.Dispatched)
	assert.Equal(t, 1, llm.Calls())
	assert.Equal(t, "You are Alice.", llm.Requests()[0].SystemPrompt)
}

func TestRun_EmptyGroupIsIdle(t *testing.T) {
	f := testutil.NewFixture(t)
	llm := model.NewMockModel("mock")

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 0, llm.Calls())
}

func TestRun_CancelDuringDispatch(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	llm := model.NewMockModel("mock").
		AddStream("Alice").
		AddScript(model.Script{Deltas: []string{"partial"}, WaitForCancel: true}).
		AddStream("Bob")

	var eng *Engine
	obs := core.ObserverFunc(func(u core.Update) {
		if u.Kind == core.UpdateMessageCreated && u.Author == "Alice" {
			assert.True(t, eng.Cancel())
		}
	})
	eng = newEngine(f, llm, func(o *Options) { o.Observer = obs })

	out, err := eng.Run(context.Background(), f.Topic.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, out.State)
	assert.Equal(t, 2, llm.Calls(), "no selection after cancel")

	msgs := f.Messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, "partial", msgs[1].Text)
	assert.Equal(t, core.MessageSystem, msgs[2].Kind)
	assert.Equal(t, AbortedText, msgs[2].Text)

	_, active := eng.Active()
	assert.False(t, active)
}

func TestRun_CancelDuringSelection(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	started := make(chan struct{})
	llm := model.NewMockModel("mock").AddScript(model.Script{
		WaitForCancel: true,
		OnStart:       func() { close(started) },
	})
	eng := newEngine(f, llm)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := eng.Run(context.Background(), f.Topic.ID)
		done <- out
	}()

	<-started
	assert.Equal(t, StateSelecting, eng.State())

	_, err := eng.Run(context.Background(), f.Topic.ID)
	assert.ErrorIs(t, err, ErrSessionActive)

	require.True(t, eng.Cancel())

	select {
	case out := <-done:
		assert.Equal(t, StateCancelled, out.State)
		assert.Equal(t, 0, out.Dispatched)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Equal(t, AbortedText, lastMessage(t, f).Text)
}

func TestCancel_NoActiveSessionIsNoOp(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	eng := newEngine(f, model.NewMockModel("mock"))

	assert.False(t, eng.Cancel())
	assert.False(t, eng.Cancel())
	assert.Equal(t, StateIdle, eng.State())
	assert.Empty(t, f.Messages(t))
}

func TestRun_SelectionErrorFails(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	boom := &model.HTTPStatusError{StatusCode: 503, Body: "overloaded"}
	llm := model.NewMockModel("mock").AddScript(model.Script{Err: boom})

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, out.State)

	last := lastMessage(t, f)
	assert.Equal(t, core.MessageSystem, last.Kind)
	assert.Contains(t, last.Text, "overloaded")
}

func TestRun_DispatchErrorFails(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")

	boom := &model.NetworkError{}
	llm := model.NewMockModel("mock").
		AddStream("Alice").
		AddScript(model.Script{Deltas: []string{"par"}, Err: boom})

	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)
	require.Error(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 2, llm.Calls())

	msgs := f.Messages(t)
	require.Len(t, msgs, 2, "error is suffixed onto the reply, no extra diagnostic")
	assert.Contains(t, msgs[1].Text, "**Error:**")
}

func TestRun_OrchestratorWithoutCredentials(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")
	_, err := f.Store.UpdateModelService(testutil.ServiceID, core.ModelServicePatch{APIKey: core.Ptr("")})
	require.NoError(t, err)

	llm := model.NewMockModel("mock")
	out, err := newEngine(f, llm).Run(context.Background(), f.Topic.ID)

	var mc *core.MissingCredentialError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, llm.Calls())
	assert.Contains(t, lastMessage(t, f).Text, "configure credentials")
}

func TestRun_UnknownTopic(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	_, err := newEngine(f, model.NewMockModel("mock")).Run(context.Background(), "missing")
	assert.True(t, core.IsNotFound(err))
}

func TestRunAfter_RecordsInsideSession(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	llm := model.NewMockModel("mock").AddStream("hey")
	e := newEngine(f, llm)

	var activeDuringRecord bool
	out, err := e.RunAfter(context.Background(), f.Topic.ID, func() error {
		_, activeDuringRecord = e.Active()
		f.AddUserMessage(t, "hi")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, activeDuringRecord)
	assert.Equal(t, []string{"Alice"}, out.Speakers)
	assert.Len(t, f.Messages(t), 2)
}

func TestRunAfter_RecordErrorSkipsModel(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	llm := model.NewMockModel("mock").AddStream("hey")
	e := newEngine(f, llm)

	boom := &core.ValidationError{Field: "text", Reason: "rejected"}
	out, err := e.RunAfter(context.Background(), f.Topic.ID, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 0, llm.Calls())

	_, active := e.Active()
	assert.False(t, active)
}

func TestRunAfter_ActiveSessionSkipsRecord(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	started := make(chan struct{})
	llm := model.NewMockModel("mock").AddScript(model.Script{WaitForCancel: true, OnStart: func() { close(started) }})
	e := newEngine(f, llm)
	f.AddUserMessage(t, "hi")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Run(context.Background(), f.Topic.ID)
	}()
	<-started

	called := false
	_, err := e.RunAfter(context.Background(), f.Topic.ID, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.False(t, called)

	e.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}
