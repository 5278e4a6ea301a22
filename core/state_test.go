package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTopicName(t *testing.T) {
	assert.Equal(t, "hello there", DeriveTopicName("  hello\n there "))
	assert.Equal(t, "abcdefghijklmnopqrst", DeriveTopicName("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, 20, len([]rune(DeriveTopicName("你好你好你好你好你好你好你好你好你好你好你好"))))
}

func TestGroup_Validate(t *testing.T) {
	assert.NoError(t, Group{Name: "g", MemberAgentIDs: []string{"a", "b"}}.Validate())
	assert.Error(t, Group{MemberAgentIDs: []string{"a"}}.Validate())
	assert.Error(t, Group{Name: "g", MemberAgentIDs: []string{"a", "a"}}.Validate())
	assert.Error(t, Group{Name: "g", MemberAgentIDs: []string{OrchestratorID}}.Validate())

	assert.True(t, Group{MemberAgentIDs: []string{"a"}}.IsPrivate())
	assert.False(t, Group{MemberAgentIDs: []string{"a", "b"}}.IsPrivate())
}

func TestMessage_IsConversational(t *testing.T) {
	assert.True(t, Message{Kind: MessageUser}.IsConversational())
	assert.True(t, Message{Kind: MessageAgent}.IsConversational())
	assert.False(t, Message{Kind: MessageError}.IsConversational())
	assert.False(t, Message{Kind: MessageSystem}.IsConversational())
}

func TestState_CloneIsDeep(t *testing.T) {
	st := NewState()
	st.Groups = append(st.Groups, Group{ID: "g", Name: "g", MemberAgentIDs: []string{"a"}})
	st.Messages["t"] = []Message{{ID: "m1", Text: "hi"}}

	c := st.Clone()
	c.Groups[0].MemberAgentIDs[0] = "changed"
	c.Messages["t"][0].Text = "changed"
	c.Messages["other"] = nil

	assert.Equal(t, "a", st.Groups[0].MemberAgentIDs[0])
	assert.Equal(t, "hi", st.Messages["t"][0].Text)
	assert.NotContains(t, st.Messages, "other")
}

func TestState_EncodeDecode(t *testing.T) {
	st := NewState()
	st.Settings.DefaultModelID = "gpt"
	st.Agents = append(st.Agents, Agent{ID: "a", DisplayName: "Alice", ContextWindowSize: Ptr(4)})
	st.Topics = append(st.Topics, Topic{ID: "t", GroupID: "g", CreatedAt: time.Unix(10, 0).UTC()})
	st.Messages["t"] = []Message{{ID: "m", AuthorName: "User", Kind: MessageUser, Text: "hi"}}
	st.CurrentTopicID = "t"

	data, err := st.Encode()
	require.NoError(t, err)

	got, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestDecodeState_Defaults(t *testing.T) {
	got, err := DecodeState([]byte(`{"settings":{"userName":"Bob"}}`))
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "Bob", got.Settings.UserName)
	assert.NotNil(t, got.Messages)

	_, err = DecodeState([]byte(`{"schemaVersion": 99}`))
	assert.Error(t, err)

	_, err = DecodeState([]byte(`not json`))
	assert.Error(t, err)
}
