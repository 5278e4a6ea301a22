package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/testutil"
	"github.com/hupe1980/chatmesh/model"
)

type mockPersister struct{ mock.Mock }

func (m *mockPersister) Load() (*core.State, error) {
	args := m.Called()
	st, _ := args.Get(0).(*core.State)
	return st, args.Error(1)
}

func (m *mockPersister) Save(st *core.State) error {
	return m.Called(st).Error(0)
}

func TestExecuteTurn_StreamsIntoOneMessage(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	f.AddUserMessage(t, "hi")

	llm := model.NewMockModel("mock").AddStream("He", "", "llo")
	rec := &testutil.Recorder{}
	persister := &mockPersister{}
	persister.On("Save", mock.AnythingOfType("*core.State")).Return(nil).Once()

	exec := NewExecutor(f.Store, llm, func(o *Options) {
		o.Observer = rec
		o.Persister = persister
	})

	res, err := exec.ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, f.Messages(t))
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.FullText)
	require.NotNil(t, res.Message)

	msgs := f.Messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Text)
	assert.Equal(t, "Alice", msgs[1].AuthorName)
	assert.Equal(t, core.MessageAgent, msgs[1].Kind)

	assert.Equal(t, []core.UpdateKind{
		core.UpdateMessageCreated,
		core.UpdateMessageDelta,
		core.UpdateMessageCompleted,
	}, rec.Kinds())
	persister.AssertExpectations(t)

	req := llm.Requests()[0]
	assert.Equal(t, "You are Alice.", req.SystemPrompt)
	assert.Equal(t, "test-key", req.Config.APIKey)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "User: hi"}}, req.History)
}

func TestExecuteTurn_EmptyReplyCreatesNoMessage(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	llm := model.NewMockModel("mock").AddStream()

	res, err := NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Message)
	assert.Empty(t, f.Messages(t))
}

func TestExecuteTurn_MissingServiceFailsBeforeNetwork(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	llm := model.NewMockModel("mock")
	exec := NewExecutor(f.Store, llm)

	ghost := f.Agent(t, "Alice")
	ghost.ModelServiceID = "missing"
	_, err := exec.ExecuteTurn(context.Background(), ghost, f.Topic.ID, nil)
	var snf *core.ServiceNotFoundError
	require.ErrorAs(t, err, &snf)

	unbound := f.Agent(t, "Alice")
	unbound.ModelServiceID = ""
	_, err = exec.ExecuteTurn(context.Background(), unbound, f.Topic.ID, nil)
	require.ErrorAs(t, err, &snf)

	assert.Equal(t, 0, llm.Calls())
	assert.Empty(t, f.Messages(t))
}

func TestExecuteTurn_MissingCredential(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	_, err := f.Store.UpdateModelService(testutil.ServiceID, core.ModelServicePatch{APIKey: core.Ptr("")})
	require.NoError(t, err)

	llm := model.NewMockModel("mock")
	_, err = NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)

	var mc *core.MissingCredentialError
	require.ErrorAs(t, err, &mc)
	assert.True(t, core.IsConfigError(err))
	assert.Equal(t, 0, llm.Calls())
}

func TestExecuteTurn_SettingsKeyFallback(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	_, err := f.Store.UpdateModelService(testutil.ServiceID, core.ModelServicePatch{APIKey: core.Ptr("")})
	require.NoError(t, err)
	_, err = f.Store.UpdateSettings(core.SettingsPatch{DefaultAPIKey: core.Ptr("global")})
	require.NoError(t, err)

	llm := model.NewMockModel("mock").AddStream("ok")
	_, err = NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "global", llm.Requests()[0].Config.APIKey)
}

func TestExecuteTurn_ErrorAfterPartialOutput(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	boom := &model.NetworkError{Err: errors.New("connection reset")}
	llm := model.NewMockModel("mock").AddScript(model.Script{Deltas: []string{"Hal"}, Err: boom})

	res, err := NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.ErrorIs(t, err, boom)
	require.NotNil(t, res)

	msgs := f.Messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hal\n\n**Error:** "+boom.Error(), msgs[0].Text)
	assert.Equal(t, core.MessageAgent, msgs[0].Kind)
}

func TestExecuteTurn_ErrorWithoutOutput(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	boom := &model.HTTPStatusError{StatusCode: 500, Body: "oops"}
	llm := model.NewMockModel("mock").AddScript(model.Script{Err: boom})

	_, err := NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.Error(t, err)

	msgs := f.Messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.ErrorAuthor, msgs[0].AuthorName)
	assert.Equal(t, core.MessageError, msgs[0].Kind)
	assert.Equal(t, boom.Error(), msgs[0].Text)
}

func TestExecuteTurn_AbortKeepsPartialWithoutError(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	ctx, cancel := context.WithCancel(context.Background())
	llm := model.NewMockModel("mock").AddScript(model.Script{
		Deltas:        []string{"partial"},
		WaitForCancel: true,
	})
	cancelOnFirstDelta := core.ObserverFunc(func(u core.Update) {
		if u.Kind == core.UpdateMessageCreated {
			cancel()
		}
	})

	exec := NewExecutor(f.Store, llm, func(o *Options) { o.Observer = cancelOnFirstDelta })
	_, err := exec.ExecuteTurn(ctx, f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.True(t, model.IsAbort(err))

	msgs := f.Messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial", msgs[0].Text)
}

func TestExecuteTurn_PersistFailureIsNotFatal(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	persister := &mockPersister{}
	persister.On("Save", mock.Anything).Return(errors.New("disk full"))

	llm := model.NewMockModel("mock").AddStream("ok")
	exec := NewExecutor(f.Store, llm, func(o *Options) { o.Persister = persister })

	res, err := exec.ExecuteTurn(context.Background(), f.Agent(t, "Alice"), f.Topic.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.FullText)
	persister.AssertNumberOfCalls(t, "Save", 1)
}

func TestExecuteTurn_UsesPersonaWindow(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	for _, text := range []string{"one", "two", "three"} {
		f.AddUserMessage(t, text)
	}
	alice, err := f.Store.UpdateAgent(f.Agent(t, "Alice").ID, core.AgentPatch{ContextWindowSize: core.Ptr(core.Ptr(2))})
	require.NoError(t, err)

	llm := model.NewMockModel("mock").AddStream("ok")
	_, err = NewExecutor(f.Store, llm).ExecuteTurn(context.Background(), alice, f.Topic.ID, f.Messages(t))
	require.NoError(t, err)

	hist := llm.Requests()[0].History
	require.Len(t, hist, 2)
	assert.Equal(t, "User: two", hist[0].Content)
}

func TestQuery_DoesNotWriteConversation(t *testing.T) {
	f := testutil.NewFixture(t, "Alice")
	llm := model.NewMockModel("mock").AddStream("Ali", "ce")

	orch := f.Store.Orchestrator()
	text, err := NewExecutor(f.Store, llm).Query(context.Background(), orch, "pick", nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", text)
	assert.Empty(t, f.Messages(t))
	assert.Equal(t, "pick", llm.Requests()[0].SystemPrompt)
}

func TestExecuteTurn_SystemPromptTemplate(t *testing.T) {
	f := testutil.NewFixture(t, "Alice", "Bob")
	f.AddUserMessage(t, "hi")
	_, err := f.Store.UpdateSettings(core.SettingsPatch{UserName: core.Ptr("Samm")})
	require.NoError(t, err)
	alice, err := f.Store.UpdateAgent(f.Agent(t, "Alice").ID, core.AgentPatch{SystemPrompt: core.Ptr("You are {{.Name}}, helping {{.UserName}}.")})
	require.NoError(t, err)
	bob, err := f.Store.UpdateAgent(f.Agent(t, "Bob").ID, core.AgentPatch{SystemPrompt: core.Ptr("Broken {{.Name")})
	require.NoError(t, err)

	llm := model.NewMockModel("mock").AddStream("ok").AddStream("ok")
	exec := NewExecutor(f.Store, llm)

	_, err = exec.ExecuteTurn(context.Background(), alice, f.Topic.ID, f.Messages(t))
	require.NoError(t, err)
	_, err = exec.ExecuteTurn(context.Background(), bob, f.Topic.ID, f.Messages(t))
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "You are Alice, helping Samm.", reqs[0].SystemPrompt)
	assert.Equal(t, "Broken {{.Name", reqs[1].SystemPrompt)
}
