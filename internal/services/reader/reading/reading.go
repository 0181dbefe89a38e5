// Package reading holds the data model shared by the reader components: the
// frozen snapshot of a laid spread, the append-only ledger of completed
// readings and the running conversation summary.
package reading

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
)

// maxQuestionSummary bounds the question text kept in a ledger entry.
const maxQuestionSummary = 120

// PositionedCard is a drawn card resolved against the catalog and bound to a
// spread position. It carries the card text so later consumers never need a
// catalog lookup.
type PositionedCard struct {
	Position catalog.Position `json:"position"`
	CardID   int              `json:"cardId"`
	CardName string           `json:"cardName"`
	Reversed bool             `json:"reversed"`
	Keywords []string         `json:"keywords,omitempty"`
	Meaning  string           `json:"meaning"`
}

// Orientation renders the orientation as "upright" or "reversed".
func (p PositionedCard) Orientation() string {
	if p.Reversed {
		return "reversed"
	}
	return "upright"
}

// ActiveSpread is the snapshot of a spread taken the moment it was drawn.
// It is replaced wholesale by the next draw and never edited in place.
type ActiveSpread struct {
	ReadingID  string           `json:"readingId"`
	Question   string           `json:"question"`
	Spread     catalog.Spread   `json:"spread"`
	Cards      []PositionedCard `json:"cards"`
	DrawnAt    time.Time        `json:"drawnAt"`
	MethodUsed string           `json:"methodUsed,omitempty"`
}

// Clone returns a deep copy so holders cannot alias the snapshot.
func (a ActiveSpread) Clone() ActiveSpread {
	a.Spread = a.Spread.Clone()
	cards := make([]PositionedCard, len(a.Cards))
	for i, card := range a.Cards {
		card.Keywords = append([]string(nil), card.Keywords...)
		cards[i] = card
	}
	a.Cards = cards
	return a
}

// CardsSummary lists the cards in position order, e.g.
// "The Tower (reversed), Three of Cups (upright)".
func (a ActiveSpread) CardsSummary() string {
	parts := make([]string, 0, len(a.Cards))
	for _, card := range a.Cards {
		parts = append(parts, card.CardName+" ("+card.Orientation()+")")
	}
	return strings.Join(parts, ", ")
}

// LedgerEntry records one completed reading for future context.
type LedgerEntry struct {
	ReadingID       string    `json:"readingId"`
	QuestionSummary string    `json:"questionSummary"`
	SpreadName      string    `json:"spreadName"`
	CardsSummary    string    `json:"cardsSummary"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewLedgerEntry summarizes a completed reading.
func NewLedgerEntry(spread ActiveSpread, now time.Time) LedgerEntry {
	return LedgerEntry{
		ReadingID:       spread.ReadingID,
		QuestionSummary: SummarizeQuestion(spread.Question),
		SpreadName:      spread.Spread.Name,
		CardsSummary:    spread.CardsSummary(),
		CreatedAt:       now.UTC(),
	}
}

// SummarizeQuestion collapses whitespace and truncates long questions.
func SummarizeQuestion(question string) string {
	question = strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(question) <= maxQuestionSummary {
		return question
	}
	runes := []rune(question)
	return strings.TrimSpace(string(runes[:maxQuestionSummary-3])) + "..."
}

// Summary is the running compression of older conversation turns. A new
// summary supersedes the previous one; the two are never merged textually.
type Summary struct {
	Text             string `json:"text"`
	MessagesReplaced int    `json:"messagesReplaced"`
}

// Empty reports whether the summary carries no text.
func (s *Summary) Empty() bool {
	return s == nil || strings.TrimSpace(s.Text) == ""
}
