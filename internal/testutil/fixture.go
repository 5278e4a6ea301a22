package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/session"
)

// ServiceID is the id of the model service every fixture creates.
const ServiceID = "svc-default"

// Fixture is a seeded in-memory store with one model service, a set of
// agents, one group containing all of them and one empty topic.
type Fixture struct {
	Store   *session.InMemoryStore
	Service core.ModelService
	Agents  []core.Agent
	Group   core.Group
	Topic   core.Topic
}

// NewFixture seeds a store. Every agent is named after its display name and
// bound to the fixture's model service; the orchestrator uses it too.
//
//	f := NewFixture(t, "Alice", "Bob")
func NewFixture(t testing.TB, agentNames ...string) *Fixture {
	t.Helper()

	s := session.NewInMemoryStore()
	svc, err := s.CreateModelService(core.ModelService{ID: ServiceID, Name: "Default", APIKey: "test-key", ModelID: "test-model"})
	require.NoError(t, err)

	f := &Fixture{Store: s, Service: svc}
	members := make([]string, 0, len(agentNames))
	for _, name := range agentNames {
		a, err := s.CreateAgent(core.Agent{
			ID:             "agent-" + name,
			DisplayName:    name,
			SystemPrompt:   "You are " + name + ".",
			ModelServiceID: svc.ID,
		})
		require.NoError(t, err)
		f.Agents = append(f.Agents, a)
		members = append(members, a.ID)
	}

	_, err = s.UpdateOrchestrator(core.OrchestratorPatch{ModelServiceID: core.Ptr(svc.ID)})
	require.NoError(t, err)

	f.Group, err = s.CreateGroup(core.Group{ID: "group-1", Name: "Team", MemberAgentIDs: members})
	require.NoError(t, err)
	f.Topic, err = s.CreateTopic(f.Group.ID, "")
	require.NoError(t, err)
	require.NoError(t, s.SelectTopic(f.Topic.ID))

	return f
}

// Agent returns the fixture agent with the given display name.
func (f *Fixture) Agent(t testing.TB, name string) core.Agent {
	t.Helper()
	for _, a := range f.Agents {
		if a.DisplayName == name {
			return a
		}
	}
	require.FailNow(t, "unknown fixture agent", name)

	return core.Agent{}
}

// Messages returns the fixture topic log.
func (f *Fixture) Messages(t testing.TB) []core.Message {
	t.Helper()
	msgs, err := f.Store.Messages(f.Topic.ID)
	require.NoError(t, err)

	return msgs
}

// AddUserMessage appends a completed user message to the fixture topic.
func (f *Fixture) AddUserMessage(t testing.TB, text string) {
	t.Helper()
	ref, err := f.Store.AppendMessage(f.Topic.ID, core.Message{AuthorName: core.DefaultUserName, Kind: core.MessageUser, Text: text})
	require.NoError(t, err)
	ref.Complete()
}
