package mcpapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrawer struct {
	calls  []draw.Request
	result draw.Result
	err    error
}

func (f *fakeDrawer) Draw(_ context.Context, req draw.Request) (draw.Result, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

func connect(t *testing.T, drawer Drawer) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	server := NewServer(catalog.MustLoad(), drawer)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func structured[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	var out T
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestToolsAreListed(t *testing.T) {
	session := connect(t, &fakeDrawer{})
	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_spreads", "draw_cards"}, names)
}

func TestListSpreads(t *testing.T) {
	session := connect(t, &fakeDrawer{})
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "list_spreads", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := structured[ListSpreadsResult](t, res)
	slugs := make([]string, 0, len(out.Spreads))
	for _, s := range out.Spreads {
		slugs = append(slugs, s.Slug)
	}
	assert.ElementsMatch(t, []string{"single", "three_card", "celtic_cross", "relationship"}, slugs)
	for _, s := range out.Spreads {
		if s.Slug == "celtic_cross" {
			assert.Len(t, s.Positions, 10)
			assert.Equal(t, 1, s.Positions[0].Index)
		}
	}
}

func TestDrawCards(t *testing.T) {
	drawer := &fakeDrawer{result: draw.Result{
		Draws: []draw.Card{{CardID: 0}, {CardID: 22, Reversed: true}},
		Provenance: draw.Provenance{
			ID:         "d1",
			MethodUsed: entropy.TierRandomOrg,
			Attempts: []draw.Attempt{
				{Tier: entropy.TierQuantum, Error: "timeout", Rounds: 1},
				{Tier: entropy.TierRandomOrg, Success: true, Rounds: 1},
			},
		},
	}}
	session := connect(t, drawer)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "draw_cards",
		Arguments: map[string]any{"n": 2, "allow_duplicates": true},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	require.Len(t, drawer.calls, 1)
	assert.Equal(t, draw.Request{N: 2, AllowDuplicates: true, AllowReversals: true}, drawer.calls[0])

	out := structured[DrawCardsResult](t, res)
	assert.Equal(t, "d1", out.DrawID)
	assert.Equal(t, "random_org", out.MethodUsed)
	require.Len(t, out.Cards, 2)
	assert.Equal(t, "The Fool", out.Cards[0].Name)
	assert.Equal(t, "Ace of Wands", out.Cards[1].Name)
	assert.True(t, out.Cards[1].Reversed)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Success)
}

func TestDrawCardsNoReversals(t *testing.T) {
	drawer := &fakeDrawer{result: draw.Result{Draws: []draw.Card{{CardID: 3}}}}
	session := connect(t, drawer)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "draw_cards",
		Arguments: map[string]any{"n": 1, "allow_reversals": false},
	})
	require.NoError(t, err)
	require.Len(t, drawer.calls, 1)
	assert.False(t, drawer.calls[0].AllowReversals)
}

func TestDrawCardsReportsFailures(t *testing.T) {
	drawer := &fakeDrawer{err: draw.ErrTooManyUniqueCards}
	session := connect(t, drawer)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "draw_cards",
		Arguments: map[string]any{"n": 80},
	})
	if err == nil {
		require.True(t, res.IsError)
	}
}
