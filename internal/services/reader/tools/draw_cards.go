package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tarot.space/internal/platform/id"
	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/prompt"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
)

// DrawCardsArgs are the draw_cards arguments.
type DrawCardsArgs struct {
	Spread    string   `json:"spread,omitempty" jsonschema:"description=Slug of a named spread such as single or three_card or relationship or celtic_cross"`
	Positions []string `json:"positions,omitempty" jsonschema:"description=Position meanings for a custom spread in reading order,maxItems=15"`
	Question  string   `json:"question" jsonschema:"description=The querent's question in their own words"`
}

// Drawer samples cards.
type Drawer interface {
	Draw(ctx context.Context, req draw.Request) (draw.Result, error)
}

// DrawCards lays a spread and makes it the session's active spread.
type DrawCards struct {
	catalog *catalog.Catalog
	drawer  Drawer
	now     func() time.Time
	newID   func() (string, error)
}

// NewDrawCards builds the tool.
func NewDrawCards(c *catalog.Catalog, drawer Drawer) *DrawCards {
	return &DrawCards{catalog: c, drawer: drawer, now: time.Now, newID: id.NewID}
}

func (*DrawCards) Name() string { return NameDrawCards }

func (*DrawCards) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        NameDrawCards,
		Description: "Shuffle and lay a spread for the querent's question. Pass a spread slug or a list of custom position meanings.",
		Parameters:  parameters(&DrawCardsArgs{}),
	}
}

func (t *DrawCards) Execute(ctx context.Context, arguments string, env *Env) (Result, error) {
	var args DrawCardsArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return Result{}, err
	}
	spread, err := t.resolve(args)
	if err != nil {
		return Result{}, err
	}

	drawn, err := t.drawer.Draw(ctx, draw.Request{N: len(spread.Positions), AllowReversals: true})
	if err != nil {
		return Result{}, fmt.Errorf("draw cards: %w", err)
	}
	readingID, err := t.newID()
	if err != nil {
		return Result{}, err
	}

	active := reading.ActiveSpread{
		ReadingID:  readingID,
		Question:   strings.TrimSpace(args.Question),
		Spread:     spread,
		Cards:      make([]reading.PositionedCard, 0, len(drawn.Draws)),
		DrawnAt:    t.now().UTC(),
		MethodUsed: string(drawn.Provenance.MethodUsed),
	}
	for i, d := range drawn.Draws {
		card, ok := t.catalog.Card(d.CardID)
		if !ok {
			return Result{}, fmt.Errorf("card %d missing from catalog", d.CardID)
		}
		aspect := card.Aspect(d.Reversed)
		active.Cards = append(active.Cards, reading.PositionedCard{
			Position: spread.Positions[i],
			CardID:   card.ID,
			CardName: card.Name,
			Reversed: d.Reversed,
			Keywords: append([]string(nil), aspect.Keywords...),
			Meaning:  aspect.Meaning,
		})
	}

	env.ActiveSpread = &active
	laid := active.Clone()
	return Result{
		Text:       prompt.FormatSpread(active) + "\nThe spread is laid. Call request_interpretation to interpret it.",
		SpreadLaid: &laid,
	}, nil
}

func (t *DrawCards) resolve(args DrawCardsArgs) (catalog.Spread, error) {
	if len(args.Positions) > 0 {
		spread, err := catalog.CustomSpread(args.Positions)
		if err != nil {
			return catalog.Spread{}, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		}
		return spread, nil
	}
	slug := catalog.NormalizeSlug(args.Spread)
	if spread, ok := t.catalog.Spread(slug); ok {
		return spread, nil
	}
	slugs := make([]string, 0, 4)
	for _, s := range t.catalog.Spreads() {
		slugs = append(slugs, s.Slug)
	}
	return catalog.Spread{}, fmt.Errorf("%w %q; choose one of %s or pass positions", ErrUnknownSpread, args.Spread, strings.Join(slugs, ", "))
}

// IsUnknownSpread reports whether err is an unknown spread failure.
func IsUnknownSpread(err error) bool {
	return errors.Is(err, ErrUnknownSpread)
}
