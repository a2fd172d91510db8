package ai

import (
	"context"
	"fmt"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ journal.Collaborator = (*OpenAI)(nil)

// CompletionsService defines the non-streaming chat completion call.
type CompletionsService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// chunkSource is the subset of the SDK's SSE stream the adapter reads.
type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type streamFunc func(ctx context.Context, params openai.ChatCompletionNewParams) chunkSource

// OpenAI is a chat partner backed by OpenAI chat completions.
type OpenAI struct {
	completions CompletionsService
	stream      streamFunc
	model       openai.ChatModel
}

// NewOpenAI creates a new OpenAI chat partner.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		completions: client.Chat.Completions,
		stream: func(ctx context.Context, p openai.ChatCompletionNewParams) chunkSource {
			return client.Chat.Completions.NewStreaming(ctx, p)
		},
		model: openai.ChatModel(model),
	}
}

// ModelName returns the configured model.
func (o *OpenAI) ModelName() string {
	return string(o.model)
}

func (o *OpenAI) params(system string, history []journal.ChatMessage) openai.ChatCompletionNewParams {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		if m.Role == journal.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Text))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(o.model),
	}
}

// StreamReply streams the partner's answer to the last user message.
func (o *OpenAI) StreamReply(ctx context.Context, themeName, goal string, history []journal.ChatMessage) (journal.ReplyStream, error) {
	if lastUserIndex(history) < 0 {
		return nil, fmt.Errorf("stream reply: no user message in history")
	}
	src := o.stream(ctx, o.params(SystemPrompt(themeName, goal), history))
	if err := src.Err(); err != nil {
		src.Close()
		return nil, fmt.Errorf("stream reply: %w", err)
	}
	return &openAIStream{src: src}, nil
}

// ExtractInsights asks the model for insights in transcript.
func (o *OpenAI) ExtractInsights(ctx context.Context, transcript string) ([]string, error) {
	resp, err := o.completions.New(ctx, o.params(extractInstruction, []journal.ChatMessage{
		{Role: journal.RoleUser, Text: transcript},
	}))
	if err != nil {
		return nil, fmt.Errorf("insight extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("insight extraction failed: no choices returned")
	}
	return ParseExtracted(resp.Choices[0].Message.Content), nil
}

type openAIStream struct {
	src chunkSource
	cur string
}

// Next skips chunks that carry no content (role headers, finish markers).
func (s *openAIStream) Next() bool {
	for s.src.Next() {
		chunk := s.src.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.cur = delta
			return true
		}
	}
	return false
}

func (s *openAIStream) Current() string { return s.cur }
func (s *openAIStream) Err() error      { return s.src.Err() }
func (s *openAIStream) Close() error    { return s.src.Close() }
