package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
)

// ListSpreadsArgs takes no arguments.
type ListSpreadsArgs struct{}

// ListSpreads describes the named spreads. Its result is ephemeral.
type ListSpreads struct {
	catalog *catalog.Catalog
}

// NewListSpreads builds the tool.
func NewListSpreads(c *catalog.Catalog) *ListSpreads {
	return &ListSpreads{catalog: c}
}

func (*ListSpreads) Name() string { return NameListSpreads }

func (*ListSpreads) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        NameListSpreads,
		Description: "List the available tarot spreads with their positions.",
		Parameters:  parameters(&ListSpreadsArgs{}),
	}
}

func (t *ListSpreads) Execute(context.Context, string, *Env) (Result, error) {
	return Result{Text: FormatSpreads(t.catalog.Spreads()), Ephemeral: true}, nil
}

// FormatSpreads renders spreads for a model or agent.
func FormatSpreads(spreads []catalog.Spread) string {
	var b strings.Builder
	b.WriteString("Available spreads:")
	for _, s := range spreads {
		fmt.Fprintf(&b, "\n- %s: %s (%d cards). %s", s.Slug, s.Name, len(s.Positions), s.Purpose)
		for _, p := range s.Positions {
			fmt.Fprintf(&b, "\n  %d. %s: %s", p.Index, p.Name, p.Meaning)
		}
	}
	fmt.Fprintf(&b, "\nA custom spread of up to %d positions can be drawn by passing position meanings instead of a slug.", catalog.MaxCustomPositions)
	return b.String()
}
