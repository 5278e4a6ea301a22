package chatmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatmesh/blobstore"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/engine"
	"github.com/hupe1980/chatmesh/model"
)

func newMesh(t *testing.T, llm model.Model, blobs core.BlobStore, agents ...string) (*Mesh, core.Topic) {
	t.Helper()

	m := New(func(o *Options) {
		o.Model = llm
		o.Persister = blobstore.NewSnapshotter(blobs)
	})

	return m, populate(t, m, agents...)
}

// populate adds a service bound to the orchestrator, the named agents and a
// selected topic in a group of all of them.
func populate(t *testing.T, m *Mesh, agents ...string) core.Topic {
	t.Helper()

	svc, err := m.CreateModelService(core.ModelService{Name: "Default", APIKey: "k", ModelID: "m"})
	require.NoError(t, err)
	_, err = m.UpdateOrchestrator(core.OrchestratorPatch{ModelServiceID: &svc.ID})
	require.NoError(t, err)

	ids := make([]string, 0, len(agents))
	for _, name := range agents {
		a, err := m.CreateAgent(core.Agent{DisplayName: name, SystemPrompt: "You are " + name, ModelServiceID: svc.ID})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	g, err := m.CreateGroup(core.Group{Name: "team", MemberAgentIDs: ids})
	require.NoError(t, err)
	topic, err := m.CreateTopic(g.ID, "")
	require.NoError(t, err)

	return topic
}

func TestMesh_SendUserMessage(t *testing.T) {
	llm := model.NewMockModel("mock").AddStream("Alice").AddStream("Hi!").AddStream(engine.NoSpeaker)
	blobs := blobstore.NewInMemoryStore()
	m, topic := newMesh(t, llm, blobs, "Alice", "Bob")

	out, err := m.SendUserMessage(context.Background(), "  Plan the launch of our new product line  ")
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, out.State)
	assert.Equal(t, []string{"Alice"}, out.Speakers)

	msgs, err := m.Messages(topic.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.DefaultUserName, msgs[0].AuthorName)
	assert.Equal(t, "Plan the launch of our new product line", msgs[0].Text)
	assert.Equal(t, "Hi!", msgs[1].Text)

	got, err := m.Store().Topic(topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan the launch of o", got.Name)

	// A fresh mesh over the same blobs sees the same conversation.
	restored := New(func(o *Options) {
		o.Model = llm
		o.Persister = blobstore.NewSnapshotter(blobs)
	})
	found, err := restored.Load()
	require.NoError(t, err)
	assert.True(t, found)
	again, err := restored.Messages(topic.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
	assert.Equal(t, topic.ID, restored.Store().CurrentTopicID())
}

func TestMesh_SendRequiresTopicAndText(t *testing.T) {
	m := New(func(o *Options) { o.Model = model.NewMockModel("mock") })

	_, err := m.SendUserMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoTopicSelected)

	llm := model.NewMockModel("mock")
	m2, _ := newMesh(t, llm, blobstore.NewInMemoryStore(), "Alice")
	_, err = m2.SendUserMessage(context.Background(), "   ")
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, llm.Calls())
}

func TestMesh_SecondSendWhileActiveIsRejected(t *testing.T) {
	started := make(chan struct{})
	llm := model.NewMockModel("mock").AddScript(model.Script{
		WaitForCancel: true,
		OnStart:       func() { close(started) },
	})
	m, topic := newMesh(t, llm, blobstore.NewInMemoryStore(), "Alice", "Bob")

	done := make(chan engine.Outcome, 1)
	go func() {
		out, _ := m.SendUserMessage(context.Background(), "first")
		done <- out
	}()
	<-started

	_, err := m.SendUserMessage(context.Background(), "second")
	assert.ErrorIs(t, err, engine.ErrSessionActive)
	assert.ErrorIs(t, m.DeleteTopic(topic.ID), engine.ErrSessionActive)

	assert.True(t, m.CancelActiveOrchestration())
	select {
	case out := <-done:
		assert.Equal(t, engine.StateCancelled, out.State)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	msgs, err := m.Messages(topic.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, engine.AbortedText, msgs[1].Text)

	assert.False(t, m.CancelActiveOrchestration())
}

func TestMesh_Observer(t *testing.T) {
	var kinds []core.UpdateKind
	llm := model.NewMockModel("mock").AddStream("Hello")

	m := New(func(o *Options) {
		o.Model = llm
		o.Observer = core.ObserverFunc(func(u core.Update) { kinds = append(kinds, u.Kind) })
	})
	svc, err := m.CreateModelService(core.ModelService{Name: "svc", APIKey: "k"})
	require.NoError(t, err)
	a, err := m.CreateAgent(core.Agent{DisplayName: "Alice", ModelServiceID: svc.ID})
	require.NoError(t, err)
	g, err := m.CreateGroup(core.Group{Name: "private", MemberAgentIDs: []string{a.ID}})
	require.NoError(t, err)
	_, err = m.CreateTopic(g.ID, "")
	require.NoError(t, err)

	_, err = m.SendUserMessage(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []core.UpdateKind{
		core.UpdateMessageCreated,   // user
		core.UpdateTopicRenamed,     // "hi"
		core.UpdateStateChanged,     // dispatching
		core.UpdateMessageCreated,   // Alice
		core.UpdateMessageCompleted, // Alice
		core.UpdateStateChanged,     // idle
	}, kinds)
}

func TestMesh_LoadWithoutState(t *testing.T) {
	m := New(func(o *Options) {
		o.Model = model.NewMockModel("mock")
		o.Persister = blobstore.NewSnapshotter(blobstore.NewInMemoryStore())
	})

	found, err := m.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMesh_SendDuringRecordIsRejectedWithoutTrace(t *testing.T) {
	llm := model.NewMockModel("mock").AddStream("Hi!")

	var (
		m      *Mesh
		topic  core.Topic
		nested error
	)
	m = New(func(o *Options) {
		o.Model = llm
		o.Observer = core.ObserverFunc(func(u core.Update) {
			if u.Kind == core.UpdateMessageCreated && u.Text == "A" {
				_, nested = m.SendToTopic(context.Background(), topic.ID, "B")
			}
		})
	})
	topic = populate(t, m, "Alice")

	out, err := m.SendToTopic(context.Background(), topic.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, out.Speakers)
	assert.ErrorIs(t, nested, engine.ErrSessionActive)

	msgs, err := m.Messages(topic.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].Text)
	assert.Equal(t, "Hi!", msgs[1].Text)
}

func TestMesh_ClearTopic(t *testing.T) {
	started := make(chan struct{})
	llm := model.NewMockModel("mock").
		AddStream("Hi!").
		AddScript(model.Script{WaitForCancel: true, OnStart: func() { close(started) }})
	blobs := blobstore.NewInMemoryStore()
	m, topic := newMesh(t, llm, blobs, "Alice")

	_, err := m.SendUserMessage(context.Background(), "hello")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.SendUserMessage(context.Background(), "again")
	}()
	<-started

	assert.ErrorIs(t, m.ClearTopic(topic.ID), engine.ErrSessionActive)
	m.CancelActiveOrchestration()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	require.NoError(t, m.ClearTopic(topic.ID))
	msgs, err := m.Messages(topic.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	saved, err := blobstore.NewSnapshotter(blobs).Load()
	require.NoError(t, err)
	assert.Empty(t, saved.Messages[topic.ID])

	var nf *core.NotFoundError
	assert.ErrorAs(t, m.ClearTopic("missing"), &nf)
}
