// Package anthropic adapts the Anthropic Messages API to llm.TextModel. It
// backs the interpretation model, which never calls tools.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
)

const defaultMaxTokens = 1024

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// Client implements llm.TextModel.
type Client struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
}

var _ llm.TextModel = (*Client)(nil)

// New builds a client.
func New(cfg Config) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:    anthropicsdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// StreamText streams text deltas of a single message.
func (c *Client) StreamText(ctx context.Context, req llm.TextRequest, onChunk func(string) error) error {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		block, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := block.Delta.AsAny().(anthropicsdk.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		if err := onChunk(text.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

// buildMessages maps conversational messages onto the strictly alternating
// user/assistant sequence the Messages API expects. System and tool entries
// are folded into user turns; consecutive same-role entries are merged.
func buildMessages(messages []llm.Message) []anthropicsdk.MessageParam {
	type turn struct {
		assistant bool
		parts     []string
	}
	var turns []turn
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		assistant := msg.Role == llm.RoleAssistant
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].parts = append(turns[n-1].parts, msg.Content)
			continue
		}
		turns = append(turns, turn{assistant: assistant, parts: []string{msg.Content}})
	}
	if len(turns) == 0 || turns[0].assistant {
		turns = append([]turn{{parts: []string{"(conversation start)"}}}, turns...)
	}

	out := make([]anthropicsdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropicsdk.NewTextBlock(strings.Join(t.parts, "\n\n"))
		if t.assistant {
			out = append(out, anthropicsdk.NewAssistantMessage(block))
		} else {
			out = append(out, anthropicsdk.NewUserMessage(block))
		}
	}
	return out
}
