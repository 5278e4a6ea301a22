// Package openai provides a model.Model for OpenAI-compatible Chat
// Completions endpoints. Responses are always streamed: every "data:" line of
// the SSE body is one payload, decoded into the openai-go ChatCompletionChunk.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
)

// DefaultEndpointURL is used when the request config carries no endpoint.
const DefaultEndpointURL = "https://api.openai.com/v1/chat/completions"

const (
	completionsPath = "/chat/completions"
	maxErrorBody    = 4 << 10
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Options configure the OpenAI model adapter.
type Options struct {
	// HTTPClient sends the requests. It must not set a response timeout
	// shorter than the longest expected stream.
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Model streams chat completions from any OpenAI-compatible endpoint.
type Model struct {
	client *http.Client
	logger logging.Logger
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new OpenAI-compatible model.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: opts.HTTPClient, logger: opts.Logger}
}

// Info returns model metadata.
func (m *Model) Info() model.Info {
	return model.Info{Name: "openai-compatible", Provider: model.ProviderOpenAI}
}

// Stream implements model.Model. The HTTP request is sent on the first call
// to Next.
func (m *Model) Stream(ctx context.Context, req model.Request) model.Stream {
	return &stream{ctx: ctx, model: m, req: req}
}

// EndpointURL normalizes a configured endpoint: empty means the public
// OpenAI API, a base URL gets the chat completions path appended.
func EndpointURL(raw string) string {
	if raw == "" {
		return DefaultEndpointURL
	}
	raw = strings.TrimRight(raw, "/")
	if strings.HasSuffix(raw, completionsPath) {
		return raw
	}

	return raw + completionsPath
}

type chatRequest struct {
	Model       string                                   `json:"model"`
	Messages    []openai.ChatCompletionMessageParamUnion `json:"messages"`
	Stream      bool                                     `json:"stream"`
	Temperature *float64                                 `json:"temperature,omitempty"`
	TopP        *float64                                 `json:"top_p,omitempty"`
	MaxTokens   int64                                    `json:"max_tokens,omitempty"`
}

func newChatRequest(req model.Request) chatRequest {
	msgs := req.Messages()
	out := chatRequest{
		Model:       req.Config.ModelID,
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
		Stream:      true,
		Temperature: req.Config.Temperature,
		TopP:        req.Config.TopP,
		MaxTokens:   req.Config.MaxTokens,
	}
	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleSystem:
			out.Messages = append(out.Messages, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out.Messages = append(out.Messages, openai.AssistantMessage(msg.Content))
		default:
			out.Messages = append(out.Messages, openai.UserMessage(msg.Content))
		}
	}

	return out
}

// stream adapts one SSE response to model.Stream.
type stream struct {
	ctx   context.Context
	model *Model
	req   model.Request

	started bool
	done    bool
	res     *http.Response
	reader  *bufio.Reader
	current string
	err     error
	// pending holds the parse error of the most recent malformed chunk; it
	// becomes the stream error only if no valid payload follows.
	pending error
}

func (s *stream) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		if err := s.open(); err != nil {
			s.finish(err)
			return false
		}
	}

	for {
		data, err := s.nextPayload()
		if err != nil {
			s.finishBody(err)
			return false
		}
		if bytes.Equal(data, doneMarker) {
			s.finish(nil)
			return false
		}

		if e := gjson.GetBytes(data, "error"); e.IsObject() {
			s.finish(streamError(e))
			return false
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.model.logger.Warn("skipping malformed stream chunk", "error", err, "data", truncate(string(data), 200))
			s.pending = &model.ParseError{Data: string(data), Err: err}
			continue
		}
		s.pending = nil

		if delta := chunkContent(chunk); delta != "" {
			s.current = delta
			return true
		}
	}
}

// nextPayload returns the next non-empty "data:" payload. Providers do not
// agree on blank-line separators, so each data line is a payload of its own
// and the final line counts even without a trailing newline. Comments and
// other SSE fields are ignored.
func (s *stream) nextPayload() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if data, ok := bytes.CutPrefix(bytes.TrimRight(line, "\r\n"), dataPrefix); ok {
				if data = bytes.TrimSpace(data); len(data) > 0 {
					return data, nil
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// finishBody ends the stream once the body can no longer be read.
func (s *stream) finishBody(err error) {
	switch {
	case s.ctx.Err() != nil:
		s.finish(model.ClassifyTransportError(s.ctx, s.ctx.Err()))
	case !errors.Is(err, io.EOF):
		s.finish(model.ClassifyTransportError(s.ctx, err))
	default:
		// Body exhausted without end marker; still a completion unless the
		// last payload was malformed.
		s.finish(s.pending)
	}
}

func (s *stream) Current() string { return s.current }
func (s *stream) Err() error      { return s.err }

func (s *stream) Close() error {
	s.done = true

	return s.closeBody()
}

func (s *stream) finish(err error) {
	s.err = err
	s.current = ""
	s.done = true
	_ = s.closeBody()
}

func (s *stream) closeBody() error {
	s.reader = nil
	if s.res == nil {
		return nil
	}
	err := s.res.Body.Close()
	s.res = nil

	return err
}

func (s *stream) open() error {
	body, err := json.Marshal(newChatRequest(s.req))
	if err != nil {
		return &model.ParseError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, EndpointURL(s.req.Config.EndpointURL), bytes.NewReader(body))
	if err != nil {
		return &model.NetworkError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.req.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.req.Config.APIKey)
	}

	res, err := s.model.client.Do(httpReq)
	if err != nil {
		return model.ClassifyTransportError(s.ctx, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &model.HTTPStatusError{StatusCode: res.StatusCode, Body: errorMessage(msg)}
	}

	s.res = res
	s.reader = bufio.NewReaderSize(res.Body, 64<<10)

	return nil
}

func chunkContent(chunk openai.ChatCompletionChunk) string {
	var b strings.Builder
	for _, choice := range chunk.Choices {
		if choice.Index == 0 {
			b.WriteString(choice.Delta.Content)
		}
	}

	return b.String()
}

// streamError converts an error object sent inside a 200 stream. There is no
// meaningful HTTP status, so the provider's code (or type) identifies it.
func streamError(e gjson.Result) error {
	code := e.Get("code").String()
	if code == "" {
		code = e.Get("type").String()
	}

	return &model.HTTPStatusError{Code: code, Body: e.Get("message").String()}
}

// errorMessage extracts the provider's error message from a JSON error body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}

	return strings.TrimSpace(string(body))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
