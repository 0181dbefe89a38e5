package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var streamEvents = []struct{ name, data string }{
	{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"m","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`},
	{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"The Tower "}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"speaks of change."}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":6}}`},
	{"message_stop", `{"type":"message_stop"}`},
}

func TestStreamTextForwardsTextDeltas(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range streamEvents {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer srv.Close()

	client, err := New(Config{APIKey: "k", BaseURL: srv.URL, Model: "deep-model"})
	require.NoError(t, err)

	var chunks []string
	err = client.StreamText(context.Background(), llm.TextRequest{
		System:   "interpreter persona",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "interpret"}},
	}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The Tower ", "speaks of change."}, chunks)
	assert.Equal(t, "deep-model", body["model"])
	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
}

func TestBuildMessagesAlternates(t *testing.T) {
	out := buildMessages([]llm.Message{
		{Role: llm.RoleAssistant, Content: "welcome"},
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleUser, Content: "b"},
		{Role: llm.RoleAssistant, Content: ""},
		{Role: llm.RoleAssistant, Content: "c"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, out[2].Role)
	assert.Equal(t, "a\n\nb", out[2].Content[0].OfText.Text)
	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, out[3].Role)
}

func TestBuildMessagesEmptyHistory(t *testing.T) {
	out := buildMessages(nil)
	require.Len(t, out, 1)
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, out[0].Role)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
