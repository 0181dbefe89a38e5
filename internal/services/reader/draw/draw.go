// Package draw implements the card sampler behind draw_cards and
// POST /rng/draw.
//
// Raw 16-bit entropy values are mapped onto the 156 oriented card states
// (78 cards times two orientations) by rejection sampling: values at or
// above Limit (65436) are discarded. Limit is not a multiple of 156, so
// oriented states 0..71 keep one extra preimage (420 against 419).
// Accepted values map as:
//
//	state    = v % 156
//	cardID   = state % 78
//	reversed = state >= 78
//
// Entropy is pulled from an ordered cascade of sources. Each source gets one
// time-bounded attempt; an attempt that cannot produce the full set of draws
// is recorded as failed and its partial draws are discarded before the next
// source is tried.
package draw

import (
	"errors"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
)

const (
	// DeckSize is the number of distinct cards.
	DeckSize = 78
	// OrientedStates is DeckSize times two orientations.
	OrientedStates = 2 * DeckSize
	// Limit is the rejection bound for raw values. Values at or above it
	// never contribute to a draw.
	Limit = 65436
)

// ErrInvalidCount indicates a request for fewer than one card.
var ErrInvalidCount = errors.New("card count must be at least 1")

// ErrTooManyUniqueCards indicates more unique cards were requested than the
// deck holds.
var ErrTooManyUniqueCards = errors.New("cannot draw more than 78 unique cards")

// ErrEntropyExhausted indicates every entropy source failed for a request.
var ErrEntropyExhausted = errors.New("all entropy sources exhausted")

// Request describes a draw.
type Request struct {
	N               int  `json:"n"`
	AllowDuplicates bool `json:"allowDuplicates"`
	AllowReversals  bool `json:"allowReversals"`
}

// Validate checks the request before any entropy is consumed.
func (r Request) Validate() error {
	if r.N < 1 {
		return ErrInvalidCount
	}
	if !r.AllowDuplicates && r.N > DeckSize {
		return ErrTooManyUniqueCards
	}
	return nil
}

// Card is one drawn card.
type Card struct {
	CardID   int  `json:"cardId"`
	Reversed bool `json:"reversed"`
}

// Attempt records one source tried during a draw.
type Attempt struct {
	Tier      entropy.Tier `json:"tier"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	// Rounds counts provider reads issued during the attempt.
	Rounds int `json:"rounds"`
}

// Provenance is the audit trail of a draw.
type Provenance struct {
	ID         string       `json:"id"`
	MethodUsed entropy.Tier `json:"method_used,omitempty"`
	Attempts   []Attempt    `json:"attempts"`
}

// Result is a completed draw.
type Result struct {
	Draws      []Card     `json:"draws"`
	Provenance Provenance `json:"provenance"`
}

// FromRaw maps one raw entropy value to an oriented card. It reports false
// when the value must be rejected.
func FromRaw(v int) (Card, bool) {
	if v < 0 || v >= Limit {
		return Card{}, false
	}
	state := v % OrientedStates
	return Card{CardID: state % DeckSize, Reversed: state >= DeckSize}, true
}

// sampler accumulates accepted draws for one attempt.
type sampler struct {
	req   Request
	used  [DeckSize]bool
	draws []Card
}

func newSampler(req Request) *sampler {
	return &sampler{req: req, draws: make([]Card, 0, req.N)}
}

// feed offers one raw value and reports whether the draw set is complete.
func (s *sampler) feed(v int) bool {
	if s.done() {
		return true
	}
	card, ok := FromRaw(v)
	if !ok {
		return false
	}
	if !s.req.AllowReversals {
		card.Reversed = false
	}
	if !s.req.AllowDuplicates {
		if s.used[card.CardID] {
			return false
		}
		s.used[card.CardID] = true
	}
	s.draws = append(s.draws, card)
	return s.done()
}

func (s *sampler) done() bool { return len(s.draws) >= s.req.N }

func (s *sampler) remaining() int { return s.req.N - len(s.draws) }

// batchSize over-requests to amortize rejection losses. Unique draws lose
// more values to collisions as the used set fills.
func batchSize(need int, unique bool) int {
	var n int
	if unique {
		n = need*4 + 8
	} else {
		n = need + need/16 + 8
	}
	return min(max(n, minBatch), maxBatch)
}

const (
	minBatch = 16
	maxBatch = 1024
)

// maxRounds bounds reads per attempt so a source returning only rejected
// values cannot stall a draw until its timeout.
func maxRounds(n int) int {
	return 64 + n/512
}
