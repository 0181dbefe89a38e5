// Package prompt assembles the system context shared by the conversation and
// interpretation models.
//
// Assemble is a pure function: identical sections always produce identical
// bytes. Both models build their context through it so they reason over the
// same summary, spread and ledger text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
)

// Section markers delimit each part of the assembled context.
const (
	MarkerSummary = "=== CONVERSATION SUMMARY ==="
	MarkerSpread  = "=== ACTIVE SPREAD ==="
	MarkerLedger  = "=== READING LEDGER ==="
)

// ledgerDateLayout keeps ledger lines stable across time zones.
const ledgerDateLayout = "2006-01-02"

// Sections are the inputs of one system context. Nil or empty sections are
// omitted together with their marker.
type Sections struct {
	Persona      string
	Summary      *reading.Summary
	ActiveSpread *reading.ActiveSpread
	Ledger       []reading.LedgerEntry
}

// Assemble concatenates persona, summary, active spread and ledger in that
// order, separated by section markers.
func Assemble(s Sections) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s.Persona))

	if !s.Summary.Empty() {
		writeSection(&b, MarkerSummary)
		if s.Summary.MessagesReplaced > 0 {
			fmt.Fprintf(&b, "(covers %d earlier messages)\n", s.Summary.MessagesReplaced)
		}
		b.WriteString(strings.TrimSpace(s.Summary.Text))
	}

	if s.ActiveSpread != nil && len(s.ActiveSpread.Cards) > 0 {
		writeSection(&b, MarkerSpread)
		b.WriteString(FormatSpread(*s.ActiveSpread))
	}

	if len(s.Ledger) > 0 {
		writeSection(&b, MarkerLedger)
		for i, entry := range s.Ledger {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(formatLedgerEntry(entry))
		}
	}

	b.WriteByte('\n')
	return b.String()
}

func writeSection(b *strings.Builder, marker string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(marker)
	b.WriteByte('\n')
}

// FormatSpread renders a laid spread, one card per position in position
// order. It is also the model-facing result of draw_cards.
func FormatSpread(spread reading.ActiveSpread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reading %s: %s", spread.ReadingID, spread.Spread.Name)
	if q := strings.TrimSpace(spread.Question); q != "" {
		fmt.Fprintf(&b, "\nQuestion: %s", q)
	}
	for _, card := range spread.Cards {
		fmt.Fprintf(&b, "\n%d. %s (%s): %s, %s.",
			card.Position.Index,
			card.Position.Name,
			card.Position.Meaning,
			card.CardName,
			card.Orientation(),
		)
		if len(card.Keywords) > 0 {
			fmt.Fprintf(&b, " Keywords: %s.", strings.Join(card.Keywords, ", "))
		}
		if meaning := strings.TrimSpace(card.Meaning); meaning != "" {
			b.WriteString(" " + meaning)
		}
	}
	return b.String()
}

func formatLedgerEntry(entry reading.LedgerEntry) string {
	question := entry.QuestionSummary
	if question == "" {
		question = "(no question)"
	}
	return fmt.Sprintf("- %s [%s] %s: %q -> %s",
		entry.CreatedAt.UTC().Format(ledgerDateLayout),
		entry.ReadingID,
		entry.SpreadName,
		question,
		entry.CardsSummary,
	)
}
