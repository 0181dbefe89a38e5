package handoff

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/prompt"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	chunks []string
	err    error
	block  bool
	calls  atomic.Int32
	last   llm.TextRequest
}

func (f *fakeModel) StreamText(ctx context.Context, req llm.TextRequest, onChunk func(string) error) error {
	f.calls.Add(1)
	f.last = req
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func testSpread() reading.ActiveSpread {
	return reading.ActiveSpread{
		ReadingID: "r1",
		Question:  "What next?",
		Spread:    catalog.Spread{Slug: "three_card", Name: "Past, Present, Future"},
		Cards: []reading.PositionedCard{
			{Position: catalog.Position{Index: 2, Name: "Present", Meaning: "Where things stand now"}, CardName: "The Star", Meaning: "Hope returns."},
			{Position: catalog.Position{Index: 1, Name: "Past", Meaning: "What led to this situation"}, CardName: "The Tower", Reversed: true, Meaning: "Avoiding upheaval."},
		},
	}
}

func drain(t *testing.T, s *Stream) string {
	t.Helper()
	var b strings.Builder
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		chunk, ok := s.Next(ctx)
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	require.NoError(t, ctx.Err())
	return b.String()
}

func TestFallbackOrdersByPosition(t *testing.T) {
	want := "The Tower (reversed) in position 'What led to this situation': Avoiding upheaval.\n" +
		"The Star (upright) in position 'Where things stand now': Hope returns."
	assert.Equal(t, want, Fallback(testSpread()))
}

func TestStartStreamsChunks(t *testing.T) {
	model := &fakeModel{chunks: []string{"The Tower ", "", "speaks."}}
	s := New(model).Start(context.Background(), Input{
		Spread:  testSpread(),
		History: []llm.Message{{Role: llm.RoleUser, Content: "read for me"}, {Role: llm.RoleTool, Content: "ignored"}},
		Focus:   "career",
	})
	defer s.Close()

	assert.Equal(t, "The Tower speaks.", drain(t, s))
	require.NoError(t, s.Err())
	assert.False(t, s.FellBack())

	assert.Contains(t, model.last.System, prompt.MarkerSpread)
	assert.True(t, strings.HasPrefix(model.last.System, strings.TrimSpace(prompt.InterpretationPersona)))
	require.Len(t, model.last.Messages, 2)
	assert.Equal(t, "read for me", model.last.Messages[0].Content)
	assert.Contains(t, model.last.Messages[1].Content, "career")
}

func TestStartFallsBackOnError(t *testing.T) {
	model := &fakeModel{err: errors.New("provider down")}
	s := New(model).Start(context.Background(), Input{Spread: testSpread()})
	defer s.Close()

	assert.Equal(t, Fallback(testSpread()), drain(t, s))
	assert.True(t, s.FellBack())
	assert.EqualError(t, s.Err(), "provider down")
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestStartFallbackAfterPartialText(t *testing.T) {
	model := &fakeModel{chunks: []string{"The Tower"}, err: errors.New("reset")}
	s := New(model).Start(context.Background(), Input{Spread: testSpread()})
	defer s.Close()

	assert.Equal(t, "The Tower\n\n"+Fallback(testSpread()), drain(t, s))
}

func TestStartFallsBackOnEmptyOutput(t *testing.T) {
	s := New(&fakeModel{}).Start(context.Background(), Input{Spread: testSpread()})
	defer s.Close()

	assert.Equal(t, Fallback(testSpread()), drain(t, s))
	assert.ErrorIs(t, s.Err(), llm.ErrEmptyResponse)
}

func TestStartTimeoutFallsBack(t *testing.T) {
	s := New(&fakeModel{block: true}, WithTimeout(20*time.Millisecond)).Start(context.Background(), Input{Spread: testSpread()})
	defer s.Close()

	assert.Equal(t, Fallback(testSpread()), drain(t, s))
	assert.ErrorIs(t, s.Err(), context.DeadlineExceeded)
}

func TestCloseAbortsProvider(t *testing.T) {
	s := New(&fakeModel{chunks: []string{"first"}, block: true}).Start(context.Background(), Input{Spread: testSpread()})
	chunk, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "first", chunk)

	s.Close()
	s.Close()
	_, ok = s.Next(context.Background())
	assert.False(t, ok)
	assert.False(t, s.FellBack())
}

func TestCallerCancelSuppressesFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeModel{block: true}).Start(ctx, Input{Spread: testSpread()})
	defer s.Close()
	cancel()

	_, ok := s.Next(context.Background())
	assert.False(t, ok)
	assert.False(t, s.FellBack())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}
