package anthropic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatmesh/model"
)

func TestMergeTurns(t *testing.T) {
	got := mergeTurns([]model.Message{
		{Role: model.RoleAssistant, Content: "earlier"},
		{Role: model.RoleUser, Content: "Alice: hi"},
		{Role: model.RoleUser, Content: "Bob: hello"},
		{Role: model.RoleAssistant, Content: "mine"},
	})

	require.Len(t, got, 4)
	assert.Equal(t, model.RoleUser, got[0].Role)
	assert.Equal(t, model.RoleAssistant, got[1].Role)
	assert.Equal(t, "Alice: hi\n\nBob: hello", got[2].Content)
	assert.Equal(t, model.RoleAssistant, got[3].Role)
}

func TestBuildParams(t *testing.T) {
	temp := 0.2
	params := buildParams(model.Request{
		Config:       model.Config{ModelID: "claude-test", Temperature: &temp},
		SystemPrompt: "sys",
		History:      []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})

	assert.Equal(t, DefaultMaxTokens, params.MaxTokens)
	assert.Equal(t, "claude-test", string(params.Model))
	require.Len(t, params.System, 1)
	assert.Equal(t, "sys", params.System[0].Text)
	assert.Len(t, params.Messages, 1)
	assert.True(t, params.Temperature.Valid())
	assert.False(t, params.TopP.Valid())
}

func TestBuildParams_EmptyHistory(t *testing.T) {
	params := buildParams(model.Request{SystemPrompt: "pick a speaker"})

	assert.Empty(t, params.System)
	require.Len(t, params.Messages, 1)
}

func sse(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func TestStream_TextDeltas(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w,
			sse("message_start", `{"type":"message_start","message":{"id":"m","type":"message","role":"assistant","model":"claude-test","content":[],"usage":{"input_tokens":1,"output_tokens":0}}}`)+
				sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)+
				sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"He"}}`)+
				sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"llo"}}`)+
				sse("content_block_stop", `{"type":"content_block_stop","index":0}`)+
				sse("message_stop", `{"type":"message_stop"}`))
	}))
	defer srv.Close()

	s := NewModel().Stream(context.Background(), model.Request{
		Config:  model.Config{EndpointURL: srv.URL, APIKey: "secret", ModelID: "claude-test"},
		History: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	text, err := model.Collect(s)

	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/v1/messages", gotPath)
}

func TestStream_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	s := NewModel().Stream(context.Background(), model.Request{
		Config:  model.Config{EndpointURL: srv.URL, APIKey: "bad", ModelID: "claude-test"},
		History: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	_, err := model.Collect(s)

	var statusErr *model.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func streamServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func collect(url string) (string, error) {
	return model.Collect(NewModel().Stream(context.Background(), model.Request{
		Config:  model.Config{EndpointURL: url, APIKey: "secret", ModelID: "claude-test"},
		History: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}))
}

func TestStream_MalformedEventEndsTurn(t *testing.T) {
	srv := streamServer(t,
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"He"}}`)+
			sse("content_block_delta", `{not json`)+
			sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"llo"}}`))

	text, err := collect(srv.URL)
	assert.Equal(t, "He", text)

	var parseErr *model.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestStream_ErrorEvent(t *testing.T) {
	srv := streamServer(t,
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"He"}}`)+
			sse("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))

	text, err := collect(srv.URL)
	assert.Equal(t, "He", text)

	var statusErr *model.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Zero(t, statusErr.StatusCode)
	assert.Equal(t, "overloaded_error", statusErr.Code)
	assert.Equal(t, "Overloaded", statusErr.Body)
	assert.Equal(t, "provider error overloaded_error: Overloaded", err.Error())
}
