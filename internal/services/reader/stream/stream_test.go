package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(s *Sender) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		var events []Event
		for ev := range s.Events() {
			events = append(events, ev)
		}
		out <- events
	}()
	return out
}

func TestSenderPreservesOrderAndEndsWithDone(t *testing.T) {
	s := NewSender(0)
	got := collect(s)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, Text("Hello")))
	require.NoError(t, s.Send(ctx, ToolCall("c1", "draw_cards", `{"spread":"single"}`)))
	require.NoError(t, s.Send(ctx, ToolResult("c1", "draw_cards", "laid")))
	require.NoError(t, s.Finish(ctx, "no_tool_calls"))

	events := <-got
	require.Len(t, events, 4)
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, EventToolCall, events[1].Type)
	assert.JSONEq(t, `{"spread":"single"}`, string(events[1].Arguments))
	assert.Equal(t, EventToolResult, events[2].Type)
	assert.Equal(t, EventDone, events[3].Type)
	assert.Equal(t, "no_tool_calls", events[3].Outcome)
}

func TestSenderRejectsAfterClose(t *testing.T) {
	s := NewSender(4)
	require.NoError(t, s.Finish(context.Background(), "handoff"))
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Send(context.Background(), Text("late")), ErrClosed)
	assert.ErrorIs(t, s.Finish(context.Background(), "again"), ErrClosed)
	s.Close()

	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
}

func TestSenderSendDoneDirectlyIsRejected(t *testing.T) {
	s := NewSender(1)
	defer s.Close()
	require.Error(t, s.Send(context.Background(), Event{Type: EventDone}))
}

func TestSenderSendRespectsContext(t *testing.T) {
	s := NewSender(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, Text("nobody listening"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.ErrorIs(t, s.Finish(ctx, "errored"), context.DeadlineExceeded)
	assert.True(t, s.Closed())
}

func TestToolCallInvalidArgumentsAreQuoted(t *testing.T) {
	ev := ToolCall("c1", "draw_cards", `{"spread":`)
	assert.Equal(t, `"{\"spread\":"`, string(ev.Arguments))
	assert.Equal(t, "{}", string(ToolCall("c2", "list_spreads", "").Arguments))
}

func TestSpreadLaidCopiesSnapshot(t *testing.T) {
	spread := reading.ActiveSpread{ReadingID: "r1", Cards: []reading.PositionedCard{{CardName: "The Sun", Keywords: []string{"joy"}}}}
	ev := SpreadLaid(spread)
	spread.Cards[0].Keywords[0] = "changed"
	assert.Equal(t, "joy", ev.Spread.Cards[0].Keywords[0])
}

func TestWriteSSE(t *testing.T) {
	s := NewSender(8)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, Text("The cards are ready.")))
	require.NoError(t, s.Send(ctx, Ledger(reading.LedgerEntry{ReadingID: "r1", SpreadName: "Single Card"})))
	require.NoError(t, s.Finish(ctx, "handoff"))

	rec := httptest.NewRecorder()
	require.NoError(t, WriteSSE(ctx, rec, s.Events()))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	require.Len(t, frames, 3)
	assert.Equal(t, "text", frames[0]["type"])
	assert.Equal(t, "ledger_entry", frames[1]["type"])
	assert.Equal(t, "done", frames[2]["type"])
	assert.Equal(t, "handoff", frames[2]["outcome"])
}

func TestWriteSSEStopsOnContext(t *testing.T) {
	s := NewSender(0)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WriteSSE(ctx, httptest.NewRecorder(), s.Events())
	require.ErrorIs(t, err, context.Canceled)
}
