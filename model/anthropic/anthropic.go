// Package anthropic provides a model.Model for the Anthropic Messages API
// built on the official SDK's streaming client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
)

// DefaultMaxTokens is sent when the request config sets no limit; the
// Messages API requires one.
const DefaultMaxTokens int64 = 1024

// Options configures the Anthropic model adapter.
type Options struct {
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Model streams Anthropic Messages responses. A client is built per request
// because endpoint and credentials come from the request config.
type Model struct {
	httpClient *http.Client
	logger     logging.Logger
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new Anthropic model.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{httpClient: opts.HTTPClient, logger: opts.Logger}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: "anthropic-messages", Provider: model.ProviderAnthropic}
}

// Stream implements model.Model. The request is sent on the first Next.
func (m *Model) Stream(ctx context.Context, req model.Request) model.Stream {
	return &stream{ctx: ctx, model: m, req: req}
}

func (m *Model) client(cfg model.Config) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(m.httpClient),
	}
	if cfg.EndpointURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.EndpointURL))
	}

	return anthropic.NewClient(opts...)
}

// buildParams converts a model.Request into Messages API params. The API
// wants alternating turns starting with the user, so consecutive entries of
// the same role are merged and a leading assistant turn gets an empty user
// turn in front. A request without history (orchestrator selection) sends
// the system prompt as the only user message.
func buildParams(req model.Request) anthropic.MessageNewParams {
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Config.ModelID),
		MaxTokens: maxTokens,
	}
	if req.Config.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		params.TopP = anthropic.Float(*req.Config.TopP)
	}

	turns := mergeTurns(req.History)
	if len(turns) == 0 {
		params.Messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.SystemPrompt)),
		}
		return params
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	return params
}

func mergeTurns(history []model.Message) []model.Message {
	var out []model.Message
	for _, msg := range history {
		role := msg.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		if len(out) == 0 && role == model.RoleAssistant {
			out = append(out, model.Message{Role: model.RoleUser, Content: "(conversation start)"})
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = strings.Join([]string{out[n-1].Content, msg.Content}, "\n\n")
			continue
		}
		out = append(out, model.Message{Role: role, Content: msg.Content})
	}

	return out
}

// streamErrorPrefix starts the error the SDK returns for an "error" event.
const streamErrorPrefix = "received error while streaming: "

// eventStream is the subset of the SDK stream used here.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type stream struct {
	ctx   context.Context
	model *Model
	req   model.Request

	started bool
	done    bool
	events  eventStream
	current string
	err     error
}

func (s *stream) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		client := s.model.client(s.req.Config)
		s.events = client.Messages.NewStreaming(s.ctx, buildParams(s.req))
	}

	for s.events.Next() {
		ev, ok := s.events.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		s.current = delta.Text

		return true
	}

	s.done = true
	s.current = ""
	if err := s.events.Err(); err != nil {
		s.err = s.classify(err)
	} else if s.ctx.Err() != nil {
		s.err = model.ClassifyTransportError(s.ctx, s.ctx.Err())
	}
	_ = s.events.Close()

	return false
}

func (s *stream) Current() string { return s.current }
func (s *stream) Err() error      { return s.err }

func (s *stream) Close() error {
	s.done = true
	if s.events != nil {
		return s.events.Close()
	}

	return nil
}

func (s *stream) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		body := gjson.Get(apiErr.RawJSON(), "error.message").String()
		if body == "" {
			body = apiErr.Error()
		}
		return &model.HTTPStatusError{StatusCode: apiErr.StatusCode, Body: body}
	}

	if data, ok := strings.CutPrefix(err.Error(), streamErrorPrefix); ok {
		body := gjson.Get(data, "error.message").String()
		if body == "" {
			body = data
		}
		return &model.HTTPStatusError{Code: gjson.Get(data, "error.type").String(), Body: body}
	}

	// The SDK stream stops at the first undecodable event, so unlike the
	// OpenAI adapter a malformed event always ends the turn.
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		s.model.logger.Warn("malformed anthropic stream event", "error", err)
		return &model.ParseError{Err: err}
	}

	return model.ClassifyTransportError(s.ctx, err)
}
