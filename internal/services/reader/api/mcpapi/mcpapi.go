// Package mcpapi exposes the spread catalog and the draw engine to agents
// over the Model Context Protocol.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "tarot-space-reader"
	serverVersion = "0.1.0"
)

// Drawer samples cards.
type Drawer interface {
	Draw(ctx context.Context, req draw.Request) (draw.Result, error)
}

// ListSpreadsInput takes no arguments.
type ListSpreadsInput struct{}

// SpreadPosition is one slot of a listed spread.
type SpreadPosition struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}

// SpreadSummary is one named spread.
type SpreadSummary struct {
	Slug      string           `json:"slug"`
	Name      string           `json:"name"`
	Purpose   string           `json:"purpose"`
	Layout    string           `json:"layout"`
	Positions []SpreadPosition `json:"positions"`
}

// ListSpreadsResult is the list_spreads output.
type ListSpreadsResult struct {
	Spreads []SpreadSummary `json:"spreads"`
}

// DrawCardsInput is the draw_cards input.
type DrawCardsInput struct {
	N               int   `json:"n" jsonschema:"number of cards to draw"`
	AllowDuplicates bool  `json:"allow_duplicates,omitempty" jsonschema:"allow the same card more than once"`
	AllowReversals  *bool `json:"allow_reversals,omitempty" jsonschema:"allow reversed cards, defaults to true"`
}

// DrawnCard is one card of a draw result.
type DrawnCard struct {
	CardID   int    `json:"card_id"`
	Name     string `json:"name"`
	Reversed bool   `json:"reversed"`
}

// DrawAttempt is one entropy tier attempt.
type DrawAttempt struct {
	Tier    string `json:"tier"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Rounds  int    `json:"rounds"`
}

// DrawCardsResult is the draw_cards output.
type DrawCardsResult struct {
	DrawID     string        `json:"draw_id"`
	MethodUsed string        `json:"method_used"`
	Cards      []DrawnCard   `json:"cards"`
	Attempts   []DrawAttempt `json:"attempts"`
}

// ListSpreadsTool defines the list_spreads tool.
func ListSpreadsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        tools.NameListSpreads,
		Description: "Lists the named tarot spreads with their ordered positions",
	}
}

// DrawCardsTool defines the draw_cards tool.
func DrawCardsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        tools.NameDrawCards,
		Description: "Draws tarot cards from the entropy cascade and reports provenance",
	}
}

// ListSpreadsHandler lists the catalog spreads.
func ListSpreadsHandler(c *catalog.Catalog) mcp.ToolHandlerFor[ListSpreadsInput, ListSpreadsResult] {
	return func(context.Context, *mcp.CallToolRequest, ListSpreadsInput) (*mcp.CallToolResult, ListSpreadsResult, error) {
		spreads := c.Spreads()
		out := ListSpreadsResult{Spreads: make([]SpreadSummary, 0, len(spreads))}
		for _, s := range spreads {
			summary := SpreadSummary{
				Slug:      s.Slug,
				Name:      s.Name,
				Purpose:   s.Purpose,
				Layout:    string(s.Layout),
				Positions: make([]SpreadPosition, 0, len(s.Positions)),
			}
			for _, p := range s.Positions {
				summary.Positions = append(summary.Positions, SpreadPosition{Index: p.Index, Name: p.Name, Meaning: p.Meaning})
			}
			out.Spreads = append(out.Spreads, summary)
		}
		return nil, out, nil
	}
}

// DrawCardsHandler runs the draw engine.
func DrawCardsHandler(c *catalog.Catalog, drawer Drawer) mcp.ToolHandlerFor[DrawCardsInput, DrawCardsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DrawCardsInput) (*mcp.CallToolResult, DrawCardsResult, error) {
		req := draw.Request{N: input.N, AllowDuplicates: input.AllowDuplicates, AllowReversals: true}
		if input.AllowReversals != nil {
			req.AllowReversals = *input.AllowReversals
		}
		result, err := drawer.Draw(ctx, req)
		if err != nil {
			return nil, DrawCardsResult{}, fmt.Errorf("draw cards: %w", err)
		}

		out := DrawCardsResult{
			DrawID:     result.Provenance.ID,
			MethodUsed: string(result.Provenance.MethodUsed),
			Cards:      make([]DrawnCard, 0, len(result.Draws)),
			Attempts:   make([]DrawAttempt, 0, len(result.Provenance.Attempts)),
		}
		for _, d := range result.Draws {
			card, ok := c.Card(d.CardID)
			if !ok {
				return nil, DrawCardsResult{}, fmt.Errorf("card %d is not in the catalog", d.CardID)
			}
			out.Cards = append(out.Cards, DrawnCard{CardID: d.CardID, Name: card.Name, Reversed: d.Reversed})
		}
		for _, a := range result.Provenance.Attempts {
			out.Attempts = append(out.Attempts, DrawAttempt{Tier: string(a.Tier), Success: a.Success, Error: a.Error, Rounds: a.Rounds})
		}
		return nil, out, nil
	}
}

// NewServer builds an MCP server with the reader tools registered.
func NewServer(c *catalog.Catalog, drawer Drawer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	mcp.AddTool(server, ListSpreadsTool(), ListSpreadsHandler(c))
	mcp.AddTool(server, DrawCardsTool(), DrawCardsHandler(c, drawer))
	return server
}

// NewHandler serves server over streamable HTTP.
func NewHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
