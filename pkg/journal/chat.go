package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ReplyStream is a lazy, finite, non-restartable sequence of reply chunks.
type ReplyStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Collaborator is the AI chat partner.
type Collaborator interface {
	StreamReply(ctx context.Context, themeName, goal string, history []ChatMessage) (ReplyStream, error)
	ExtractInsights(ctx context.Context, transcript string) ([]string, error)
}

// ExchangeState is the lifecycle of one user message and its reply.
type ExchangeState int

const (
	ExchangeIdle ExchangeState = iota
	ExchangeAwaitingFirstChunk
	ExchangeStreaming
	ExchangeSettled
)

func (e ExchangeState) String() string {
	switch e {
	case ExchangeIdle:
		return "idle"
	case ExchangeAwaitingFirstChunk:
		return "awaiting_first_chunk"
	case ExchangeStreaming:
		return "streaming"
	case ExchangeSettled:
		return "settled"
	}
	return "unknown"
}

// Chat accumulates streamed replies into the store's transcript.
type Chat struct {
	store  *Store
	ai     Collaborator
	logger *slog.Logger

	mu       sync.Mutex
	state    ExchangeState
	exchange uint64
}

// NewChat returns a chat accumulator writing to store.
func NewChat(store *Store, ai Collaborator, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{store: store, ai: ai, logger: logger.With("component", "chat")}
}

// State returns the state of the current exchange.
func (c *Chat) State() ExchangeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState records s for the given exchange. Updates from an exchange that
// was superseded by a reset are dropped.
func (c *Chat) setState(exchange uint64, s ExchangeState) {
	c.mu.Lock()
	if c.exchange == exchange {
		c.state = s
	}
	c.mu.Unlock()
}

// Send appends text as a user message and streams the assistant's reply
// into a placeholder message. It returns the settled assistant message. When
// the stream fails the placeholder holds ApologyMessage and the returned
// error wraps ErrStreamFailed. If the transcript is reset while the reply is
// streaming, the rest of the stream is discarded and ErrStaleExchange is
// returned.
func (c *Chat) Send(ctx context.Context, text string) (ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return ChatMessage{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == ExchangeAwaitingFirstChunk || c.state == ExchangeStreaming {
		c.mu.Unlock()
		return ChatMessage{}, ErrExchangeInProgress
	}
	c.state = ExchangeAwaitingFirstChunk
	c.exchange++
	ex := c.exchange
	c.mu.Unlock()

	snap, out := c.store.Apply(beginExchange{Text: text})
	if !out.Applied {
		c.setState(ex, ExchangeIdle)
		if errors.Is(out.Err, ErrNoThemeSelected) {
			return ChatMessage{}, ErrNoThemeSelected
		}
		return ChatMessage{}, fmt.Errorf("begin exchange: %w", out.Err)
	}
	defer c.setState(ex, ExchangeSettled)

	theme, _ := snap.CurrentTheme()
	gen := snap.Transcript.Generation
	placeholderID := out.EntityID
	history := make([]ChatMessage, 0, len(snap.Transcript.Messages))
	for _, m := range snap.Transcript.Messages {
		if m.ID != placeholderID {
			history = append(history, m)
		}
	}

	stream, err := c.ai.StreamReply(ctx, theme.Name, theme.Goal, history)
	if err != nil {
		return c.fail(gen, placeholderID, err)
	}
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		reply.WriteString(stream.Current())
		if _, o := c.store.Apply(streamChunk{Generation: gen, MessageID: placeholderID, Text: reply.String()}); !o.Applied {
			c.logger.Debug("discarding stream for abandoned exchange", "message_id", placeholderID)
			return ChatMessage{}, o.Err
		}
		c.setState(ex, ExchangeStreaming)
	}
	if err := stream.Err(); err != nil {
		return c.fail(gen, placeholderID, err)
	}
	if strings.TrimSpace(reply.String()) == "" {
		return c.fail(gen, placeholderID, errors.New("empty reply"))
	}
	return ChatMessage{ID: placeholderID, Role: RoleAssistant, Text: reply.String()}, nil
}

func (c *Chat) fail(gen uint64, messageID string, cause error) (ChatMessage, error) {
	c.logger.Warn("reply stream failed", "message_id", messageID, "error", cause)
	if _, o := c.store.Apply(failExchange{Generation: gen, MessageID: messageID}); !o.Applied {
		return ChatMessage{}, fmt.Errorf("%w: %w", ErrStreamFailed, cause)
	}
	return ChatMessage{ID: messageID, Role: RoleAssistant, Text: ApologyMessage},
		fmt.Errorf("%w: %w", ErrStreamFailed, cause)
}

// Reset clears the transcript and starts a new session. An exchange still
// streaming is abandoned and a new Send may start immediately.
func (c *Chat) Reset() Snapshot {
	snap, _ := c.store.Apply(ResetTranscript{})
	c.mu.Lock()
	c.exchange++
	c.state = ExchangeIdle
	c.mu.Unlock()
	return snap
}

// FormatTranscript renders messages as alternating speaker lines.
func FormatTranscript(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		speaker := "User"
		if m.Role == RoleAssistant {
			speaker = "Partner"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Text)
	}
	return b.String()
}

// ExtractInsights asks the collaborator to distill the transcript into
// insights and records each one under the selected theme. Items whose body
// already exists in the current session are skipped. It returns the ids of
// the insights created.
func (c *Chat) ExtractInsights(ctx context.Context) ([]string, error) {
	snap := c.store.Snapshot()
	theme, ok := snap.CurrentTheme()
	if !ok {
		return nil, ErrNoThemeSelected
	}
	transcript := FormatTranscript(snap.Transcript.Messages)
	if strings.Count(transcript, "\n") < 2 {
		return nil, ErrNothingToExtract
	}

	items, err := c.ai.ExtractInsights(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("extract insights: %w", err)
	}

	session := snap.Transcript.SessionID
	seen := make(map[string]bool)
	for _, ins := range snap.Insights {
		if session != "" && ins.SessionID == session {
			seen[ins.Body] = true
		}
	}

	var created []string
	for _, item := range items {
		body := strings.TrimSpace(item)
		if body == "" || seen[body] {
			continue
		}
		seen[body] = true
		_, out := c.store.Apply(CreateInsight{
			OwnerID:   snap.Owner.ID,
			ThemeID:   theme.ID,
			Body:      body,
			SessionID: session,
		})
		if out.Applied {
			created = append(created, out.EntityID)
		}
	}
	c.logger.Info("insights extracted", "theme_id", theme.ID, "proposed", len(items), "created", len(created))
	return created, nil
}
