package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func chunk(delta string) string {
	return `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":` + delta + `,"finish_reason":null}]}`
}

func TestStreamChatForwardsTextAndToolCalls(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		chunk(`{"role":"assistant","content":"Let me "}`),
		chunk(`{"content":"shuffle."}`),
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"draw_cards","arguments":""}}]}`),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"spread\":"}}]}`),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"single\"}"}}]}`),
	}, &body)
	defer srv.Close()

	client, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "fast-model"})
	require.NoError(t, err)

	var text strings.Builder
	var deltas []llm.ToolCallDelta
	err = client.StreamChat(context.Background(), llm.ChatRequest{
		System:   "persona",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "draw for me"}},
		Tools:    []llm.ToolDefinition{{Name: "draw_cards", Description: "draw", Parameters: map[string]any{"type": "object"}}},
	}, func(d llm.Delta) error {
		text.WriteString(d.Text)
		if d.ToolCall != nil {
			deltas = append(deltas, *d.ToolCall)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me shuffle.", text.String())
	require.Len(t, deltas, 3)
	assert.Equal(t, "call_1", deltas[0].ID)
	assert.Equal(t, "draw_cards", deltas[0].Name)
	assert.Equal(t, `{"spread":"single"}`, deltas[1].Arguments+deltas[2].Arguments)

	assert.Equal(t, "fast-model", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestStreamTextSkipsToolDeltas(t *testing.T) {
	srv := sseServer(t, []string{chunk(`{"content":"The "}`), chunk(`{"content":"Star."}`)}, nil)
	defer srv.Close()

	client, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	text, err := llm.CompleteText(context.Background(), client, llm.TextRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "summarize"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The Star.", text)
}

func TestStreamChatReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	err = client.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(llm.Delta) error { return nil })
	require.Error(t, err)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	require.Error(t, err)
}

func TestBuildMessagesAssistantToolCalls(t *testing.T) {
	out := buildMessages("", []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "list_spreads"}}},
		{Role: llm.RoleTool, Content: "spreads", ToolCallID: "c1"},
	})
	require.Len(t, out, 2)
	require.NotNil(t, out[0].OfAssistant)
	assert.Equal(t, "{}", out[0].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, out[1].OfTool)
	assert.Equal(t, "c1", out[1].OfTool.ToolCallID)
}
