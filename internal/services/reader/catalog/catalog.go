// Package catalog provides read-only access to the tarot deck and the named
// spreads. The catalog is parsed once at process start and handed to the
// components that need it; nothing mutates it afterwards, and every accessor
// returns copies so callers cannot reach the shared backing slices.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed data/cards.yaml data/spreads.yaml
var dataFS embed.FS

// DeckSize is the number of cards in a full deck.
const DeckSize = 78

// MaxCustomPositions bounds caller-defined spreads.
const MaxCustomPositions = 15

// CustomSlug identifies spreads synthesized from caller-supplied positions.
const CustomSlug = "custom"

// ErrInvalidCatalog indicates the embedded data failed validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// ErrInvalidPositions indicates a custom spread definition is unusable.
var ErrInvalidPositions = errors.New("custom spread needs between 1 and 15 non-empty positions")

// Arcana separates trump cards from suit cards.
type Arcana string

const (
	ArcanaMajor Arcana = "major"
	ArcanaMinor Arcana = "minor"
)

// Suit names one of the four minor arcana suits.
type Suit string

const (
	SuitWands     Suit = "wands"
	SuitCups      Suit = "cups"
	SuitSwords    Suit = "swords"
	SuitPentacles Suit = "pentacles"
)

// Aspect is the reading of a card in one orientation.
type Aspect struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	Meaning  string   `yaml:"meaning" json:"meaning"`
}

// Card is one entry of the deck.
type Card struct {
	ID       int    `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Arcana   Arcana `yaml:"arcana" json:"arcana"`
	Suit     Suit   `yaml:"suit,omitempty" json:"suit,omitempty"`
	Rank     string `yaml:"rank,omitempty" json:"rank,omitempty"`
	Upright  Aspect `yaml:"upright" json:"upright"`
	Reversed Aspect `yaml:"reversed" json:"reversed"`
}

// Aspect returns the card reading for the given orientation.
func (c Card) Aspect(reversed bool) Aspect {
	if reversed {
		return c.Reversed
	}
	return c.Upright
}

// Position is one slot of a spread.
type Position struct {
	Index   int    `yaml:"index" json:"index"`
	Name    string `yaml:"name" json:"name"`
	Meaning string `yaml:"meaning" json:"meaning"`
}

// Layout hints how a client should arrange a spread.
type Layout string

const (
	LayoutSingle Layout = "single"
	LayoutRow    Layout = "row"
	LayoutCross  Layout = "cross"
)

// Spread describes a named arrangement of positions.
type Spread struct {
	Slug      string     `yaml:"slug" json:"slug"`
	Name      string     `yaml:"name" json:"name"`
	Purpose   string     `yaml:"purpose" json:"purpose"`
	Layout    Layout     `yaml:"layout" json:"layout"`
	Positions []Position `yaml:"positions" json:"positions"`
}

// Clone returns a deep copy of the spread.
func (s Spread) Clone() Spread {
	s.Positions = append([]Position(nil), s.Positions...)
	return s
}

// Custom reports whether the spread was synthesized from caller positions.
func (s Spread) Custom() bool {
	return s.Slug == CustomSlug
}

// Catalog is the read-only deck and spread registry.
type Catalog struct {
	cards   []Card
	spreads []Spread
	bySlug  map[string]int
}

type cardsFile struct {
	Cards []Card `yaml:"cards"`
}

type spreadsFile struct {
	Spreads []Spread `yaml:"spreads"`
}

// Load parses the embedded deck and spreads.
func Load() (*Catalog, error) {
	cards, err := dataFS.ReadFile("data/cards.yaml")
	if err != nil {
		return nil, fmt.Errorf("read cards: %w", err)
	}
	spreads, err := dataFS.ReadFile("data/spreads.yaml")
	if err != nil {
		return nil, fmt.Errorf("read spreads: %w", err)
	}
	return Parse(cards, spreads)
}

// MustLoad is Load for process start-up, where a broken embed is a build bug.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from YAML documents and validates it.
func Parse(cardsYAML, spreadsYAML []byte) (*Catalog, error) {
	var cf cardsFile
	if err := yaml.Unmarshal(cardsYAML, &cf); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	var sf spreadsFile
	if err := yaml.Unmarshal(spreadsYAML, &sf); err != nil {
		return nil, fmt.Errorf("decode spreads: %w", err)
	}

	if len(cf.Cards) != DeckSize {
		return nil, fmt.Errorf("%w: expected %d cards, got %d", ErrInvalidCatalog, DeckSize, len(cf.Cards))
	}
	sort.Slice(cf.Cards, func(i, j int) bool { return cf.Cards[i].ID < cf.Cards[j].ID })
	for i, card := range cf.Cards {
		if card.ID != i {
			return nil, fmt.Errorf("%w: card ids must be contiguous from 0, found %d at %d", ErrInvalidCatalog, card.ID, i)
		}
		if strings.TrimSpace(card.Name) == "" {
			return nil, fmt.Errorf("%w: card %d has no name", ErrInvalidCatalog, card.ID)
		}
		if card.Arcana == ArcanaMinor && card.Suit == "" {
			return nil, fmt.Errorf("%w: minor card %d has no suit", ErrInvalidCatalog, card.ID)
		}
	}

	bySlug := make(map[string]int, len(sf.Spreads))
	for i, spread := range sf.Spreads {
		slug := NormalizeSlug(spread.Slug)
		if slug == "" || slug == CustomSlug {
			return nil, fmt.Errorf("%w: spread %d has reserved or empty slug", ErrInvalidCatalog, i)
		}
		if _, dup := bySlug[slug]; dup {
			return nil, fmt.Errorf("%w: duplicate spread slug %q", ErrInvalidCatalog, slug)
		}
		if len(spread.Positions) == 0 {
			return nil, fmt.Errorf("%w: spread %q has no positions", ErrInvalidCatalog, slug)
		}
		for j, pos := range spread.Positions {
			if pos.Index != j+1 {
				return nil, fmt.Errorf("%w: spread %q position %d has index %d", ErrInvalidCatalog, slug, j+1, pos.Index)
			}
		}
		if strings.TrimSpace(spread.Name) == "" {
			sf.Spreads[i].Name = TitleCase(slug)
		}
		sf.Spreads[i].Slug = slug
		bySlug[slug] = i
	}

	return &Catalog{cards: cf.Cards, spreads: sf.Spreads, bySlug: bySlug}, nil
}

// Card returns the card with the given id.
func (c *Catalog) Card(id int) (Card, bool) {
	if c == nil || id < 0 || id >= len(c.cards) {
		return Card{}, false
	}
	return cloneCard(c.cards[id]), true
}

// Cards returns the whole deck in id order.
func (c *Catalog) Cards() []Card {
	if c == nil {
		return nil
	}
	out := make([]Card, len(c.cards))
	for i, card := range c.cards {
		out[i] = cloneCard(card)
	}
	return out
}

// Spread resolves a named spread. Slugs are matched case-insensitively and
// with spaces or hyphens treated as underscores.
func (c *Catalog) Spread(slug string) (Spread, bool) {
	if c == nil {
		return Spread{}, false
	}
	idx, ok := c.bySlug[NormalizeSlug(slug)]
	if !ok {
		return Spread{}, false
	}
	return c.spreads[idx].Clone(), true
}

// Spreads returns every named spread in catalog order.
func (c *Catalog) Spreads() []Spread {
	if c == nil {
		return nil
	}
	out := make([]Spread, len(c.spreads))
	for i, spread := range c.spreads {
		out[i] = spread.Clone()
	}
	return out
}

// CustomSpread synthesizes a spread from caller-supplied position meanings.
func CustomSpread(meanings []string) (Spread, error) {
	positions := make([]Position, 0, len(meanings))
	for _, meaning := range meanings {
		meaning = strings.TrimSpace(meaning)
		if meaning == "" {
			return Spread{}, ErrInvalidPositions
		}
		positions = append(positions, Position{
			Index:   len(positions) + 1,
			Name:    fmt.Sprintf("Position %d", len(positions)+1),
			Meaning: meaning,
		})
	}
	if len(positions) == 0 || len(positions) > MaxCustomPositions {
		return Spread{}, ErrInvalidPositions
	}
	layout := LayoutRow
	if len(positions) == 1 {
		layout = LayoutSingle
	}
	return Spread{
		Slug:      CustomSlug,
		Name:      "Custom Spread",
		Purpose:   "A spread shaped around the querent's own positions.",
		Layout:    layout,
		Positions: positions,
	}, nil
}

// NormalizeSlug canonicalizes a spread slug.
func NormalizeSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(slug)
}

// TitleCase renders a slug or suit for display: "three_card" -> "Three Card".
func TitleCase(value string) string {
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Title(language.English).String(strings.ReplaceAll(value, "_", " "))
}

func cloneCard(card Card) Card {
	card.Upright.Keywords = append([]string(nil), card.Upright.Keywords...)
	card.Reversed.Keywords = append([]string(nil), card.Reversed.Keywords...)
	return card
}
