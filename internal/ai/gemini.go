package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ journal.Collaborator = (*Gemini)(nil)

// responseIterator is satisfied by *genai.GenerateContentResponseIterator.
type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

// geminiBackend isolates the SDK calls so the adapter can be tested.
type geminiBackend interface {
	stream(ctx context.Context, system string, history []*genai.Content, msg string) responseIterator
	generate(ctx context.Context, system, prompt string) (*genai.GenerateContentResponse, error)
	close() error
}

// Gemini is a chat partner backed by Google's Gemini models.
type Gemini struct {
	backend geminiBackend
	model   string
}

// NewGemini creates a Gemini chat partner.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{backend: &sdkBackend{client: client, model: model}, model: model}, nil
}

// ModelName returns the configured model.
func (g *Gemini) ModelName() string {
	return g.model
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.backend.close()
}

// toContents converts the transcript before the last user message into
// Gemini history. Gemini names the assistant role "model".
func toContents(history []journal.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		role := "user"
		if m.Role == journal.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Text)}})
	}
	return out
}

// StreamReply streams the partner's answer to the last user message.
func (g *Gemini) StreamReply(ctx context.Context, themeName, goal string, history []journal.ChatMessage) (journal.ReplyStream, error) {
	last := lastUserIndex(history)
	if last < 0 {
		return nil, fmt.Errorf("stream reply: no user message in history")
	}
	it := g.backend.stream(ctx, SystemPrompt(themeName, goal), toContents(history[:last]), history[last].Text)
	return &geminiStream{it: it}, nil
}

// ExtractInsights asks the model for insights in transcript.
func (g *Gemini) ExtractInsights(ctx context.Context, transcript string) ([]string, error) {
	resp, err := g.backend.generate(ctx, extractInstruction, transcript)
	if err != nil {
		return nil, fmt.Errorf("insight extraction failed: %w", err)
	}
	return ParseExtracted(responseText(resp)), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

type geminiStream struct {
	it  responseIterator
	cur string
	err error
}

func (s *geminiStream) Next() bool {
	if s.it == nil {
		return false
	}
	for {
		resp, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			s.it = nil
			return false
		}
		if err != nil {
			s.err = err
			s.it = nil
			return false
		}
		if text := responseText(resp); text != "" {
			s.cur = text
			return true
		}
	}
}

func (s *geminiStream) Current() string { return s.cur }
func (s *geminiStream) Err() error      { return s.err }

// Close abandons the iterator; the SDK stops reading once it is dropped.
func (s *geminiStream) Close() error {
	s.it = nil
	return nil
}

type sdkBackend struct {
	client *genai.Client
	model  string
}

func (b *sdkBackend) newModel(system string) *genai.GenerativeModel {
	m := b.client.GenerativeModel(b.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	return m
}

func (b *sdkBackend) stream(ctx context.Context, system string, history []*genai.Content, msg string) responseIterator {
	cs := b.newModel(system).StartChat()
	cs.History = history
	return cs.SendMessageStream(ctx, genai.Text(msg))
}

func (b *sdkBackend) generate(ctx context.Context, system, prompt string) (*genai.GenerateContentResponse, error) {
	return b.newModel(system).GenerateContent(ctx, genai.Text(prompt))
}

func (b *sdkBackend) close() error {
	return b.client.Close()
}
