package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var (
	_ Invoker = (*AnthropicInvoker)(nil)

	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrNoMessages    = errors.New("no messages to send")
)

// AnthropicInvoker streams completions from the Anthropic Messages API.
type AnthropicInvoker struct {
	client       *anthropic.Client
	model        string
	maxTokens    int64
	systemPrompt string
}

// NewAnthropic creates an invoker for the given Claude model.
func NewAnthropic(apiKey, modelName string, maxTokens int, systemPrompt string, opts ...option.RequestOption) (*AnthropicInvoker, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	if !strings.HasPrefix(modelName, "claude-") {
		return nil, fmt.Errorf("model %q not supported by Anthropic (must start with 'claude-')", modelName)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicInvoker{
		client:       &client,
		model:        modelName,
		maxTokens:    int64(maxTokens),
		systemPrompt: systemPrompt,
	}, nil
}

// Invoke opens a streaming call. Errors from the API surface from Next.
func (a *AnthropicInvoker) Invoke(ctx context.Context, messages []Message) (Sequence, error) {
	params, err := a.buildParams(messages)
	if err != nil {
		return nil, err
	}
	return &anthropicSequence{stream: a.client.Messages.NewStreaming(ctx, params)}, nil
}

func (a *AnthropicInvoker) buildParams(messages []Message) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
	}
	system := a.systemPrompt
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		default:
			return params, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(params.Messages) == 0 {
		return params, ErrNoMessages
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

// eventStream is the subset of the SDK's ssestream.Stream used here.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type pendingToolUse struct {
	name  string
	input strings.Builder
}

type anthropicSequence struct {
	stream eventStream
	tool   *pendingToolUse
}

func (s *anthropicSequence) Next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return nil, fmt.Errorf("anthropic streaming error: %w", err)
			}
			return nil, io.EOF
		}
		if chunk := s.translate(s.stream.Current()); chunk != nil {
			return chunk, nil
		}
	}
}

// translate maps one SDK event to a chunk, or nil when the event only updates state.
func (s *anthropicSequence) translate(event anthropic.MessageStreamEventUnion) Chunk {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if e.ContentBlock.Type == "tool_use" {
			s.tool = &pendingToolUse{name: e.ContentBlock.Name}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			if e.Delta.Text != "" {
				return TextChunk{Text: e.Delta.Text}
			}
		case "input_json_delta":
			if s.tool != nil {
				s.tool.input.WriteString(e.Delta.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		if s.tool != nil {
			tool := s.tool
			s.tool = nil
			return ToolCallChunk{Name: tool.name, Args: toolArgs(tool.input.String())}
		}
	}
	return nil
}

func toolArgs(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	if !json.Valid([]byte(raw)) {
		return map[string]string{"raw": raw}
	}
	return json.RawMessage(raw)
}

func (s *anthropicSequence) Close() error {
	return s.stream.Close()
}
