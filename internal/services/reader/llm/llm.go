// Package llm defines the provider-neutral model contracts used by the reader:
// a streamed chat model that can request tool calls, and a streamed text model
// used for interpretation and summarization.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse indicates the provider finished without producing text.
var ErrEmptyResponse = errors.New("model returned no text")

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// Conversational reports whether the message is a user or assistant message.
func (m Message) Conversational() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// ToolCall is a fully assembled tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing an
// Index belong to the same call; ID and Name usually arrive first and
// Arguments arrive in pieces.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is one streamed increment from a chat model: text, a tool call
// fragment, or both.
type Delta struct {
	Text     string
	ToolCall *ToolCallDelta
}

// ChatRequest is a conversation-model call.
type ChatRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// TextRequest is a text-only model call.
type TextRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// ChatModel streams a chat completion. onDelta is invoked sequentially in
// arrival order; a non-nil return aborts the stream with that error.
type ChatModel interface {
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(Delta) error) error
}

// TextModel streams plain text chunks with the same callback contract.
type TextModel interface {
	StreamText(ctx context.Context, req TextRequest, onChunk func(string) error) error
}

// CompleteText drains a TextModel into one string.
func CompleteText(ctx context.Context, model TextModel, req TextRequest) (string, error) {
	var b strings.Builder
	err := model.StreamText(ctx, req, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ConversationalOnly keeps user and assistant text messages, dropping tool
// traffic and empty assistant placeholders.
func ConversationalOnly(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if !m.Conversational() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}
