package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAcquireCreatesAndKeepsState(t *testing.T) {
	r := NewRegistry(time.Hour)
	state, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", state.ID)
	state.History = append(state.History, llm.Message{Role: llm.RoleUser, Content: "hi"})
	release()
	release()

	again, release2, err := r.Acquire(context.Background(), " s1 ")
	require.NoError(t, err)
	defer release2()
	assert.Len(t, again.History, 1)
	assert.Equal(t, 1, r.Len())
}

func TestAcquireRejectsBadIDs(t *testing.T) {
	r := NewRegistry(time.Hour)
	for _, id := range []string{"", "   ", strings.Repeat("x", 129)} {
		_, _, err := r.Acquire(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID)
	}
}

func TestAcquireSerializesTurns(t *testing.T) {
	r := NewRegistry(time.Hour)
	_, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, release2, err := r.Acquire(context.Background(), "s1")
		if err == nil {
			release2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired the session while it was held")
	case <-time.After(30 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the session")
	}
}

func TestAcquireWaiterCanGiveUp(t *testing.T) {
	r := NewRegistry(time.Hour)
	_, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = r.Acquire(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireDistinctSessionsDoNotBlock(t *testing.T) {
	r := NewRegistry(time.Hour)
	_, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, release2, err := r.Acquire(ctx, "s2")
	require.NoError(t, err)
	release2()
}

func TestSweepRemovesIdleUnlockedSessions(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRegistry(time.Minute, WithClock(c.Now))

	_, releaseIdle, err := r.Acquire(context.Background(), "idle")
	require.NoError(t, err)
	releaseIdle()
	_, releaseBusy, err := r.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())

	releaseBusy()
	assert.Equal(t, 0, r.Sweep(), "released just now")
	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
}

func TestSweptSessionStartsFresh(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRegistry(time.Minute, WithClock(c.Now))

	state, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	state.History = append(state.History, llm.Message{Role: llm.RoleUser, Content: "old"})
	release()

	c.Advance(time.Hour)
	r.Sweep()

	fresh, release, err := r.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()
	assert.Empty(t, fresh.History)
}

func TestRunSweeperStops(t *testing.T) {
	r := NewRegistry(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunSweeper(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
