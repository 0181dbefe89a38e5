// Package handoff runs the interpretation model mid-turn and exposes its
// output as a cancellable sequence of text chunks.
//
// The interpretation model sees a context assembled from the same summary,
// spread and ledger as the conversation model, plus the same trailing
// history. When the provider fails the stream ends with deterministic text
// built from the spread's own card data.
package handoff

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/tarot.space/internal/platform/otel"
	"github.com/louisbranch/tarot.space/internal/platform/timeouts"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/prompt"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const defaultMaxTokens = 1500

// Input is the snapshot handed to the interpretation model.
type Input struct {
	Spread  reading.ActiveSpread
	Summary *reading.Summary
	Ledger  []reading.LedgerEntry
	History []llm.Message
	Focus   string
}

// Request builds the interpretation model request for in.
func Request(in Input) llm.TextRequest {
	spread := in.Spread
	system := prompt.Assemble(prompt.Sections{
		Persona:      prompt.InterpretationPersona,
		Summary:      in.Summary,
		ActiveSpread: &spread,
		Ledger:       in.Ledger,
	})
	messages := llm.ConversationalOnly(in.History)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt.InterpretationInstruction(in.Focus)})
	return llm.TextRequest{System: system, Messages: messages, MaxTokens: defaultMaxTokens}
}

// Fallback renders the spread without a model: one line per card in
// position order.
func Fallback(spread reading.ActiveSpread) string {
	cards := slices.Clone(spread.Cards)
	slices.SortStableFunc(cards, func(a, b reading.PositionedCard) int {
		return a.Position.Index - b.Position.Index
	})
	lines := make([]string, 0, len(cards))
	for _, card := range cards {
		lines = append(lines, fmt.Sprintf("%s (%s) in position '%s': %s",
			card.CardName, card.Orientation(), card.Position.Meaning, card.Meaning))
	}
	return strings.Join(lines, "\n")
}

// Handoff starts interpretation streams.
type Handoff struct {
	model   llm.TextModel
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Handoff.
type Option func(*Handoff)

// WithTimeout bounds the interpretation model call.
func WithTimeout(d time.Duration) Option {
	return func(h *Handoff) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handoff) {
		if l != nil {
			h.logger = l
		}
	}
}

// New builds a Handoff backed by model.
func New(model llm.TextModel, opts ...Option) *Handoff {
	h := &Handoff{model: model, timeout: timeouts.Interpretation, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the interpretation model. The returned stream must be
// drained or closed. Canceling ctx aborts the provider call and suppresses
// the fallback.
func (h *Handoff) Start(ctx context.Context, in Input) *Stream {
	base, cancel := context.WithCancel(ctx)
	s := &Stream{
		chunks:   make(chan string),
		finished: make(chan struct{}),
		cancel:   cancel,
	}
	go h.run(base, in, s)
	return s
}

func (h *Handoff) run(ctx context.Context, in Input, s *Stream) {
	defer close(s.finished)
	defer close(s.chunks)

	ctx, span := otel.Tracer("reader/handoff").Start(ctx, "reader.handoff")
	defer span.End()
	span.SetAttributes(
		attribute.String("reading.id", in.Spread.ReadingID),
		attribute.Int("reading.cards", len(in.Spread.Cards)),
	)

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	delivered := false
	err := h.model.StreamText(callCtx, Request(in), func(chunk string) error {
		if chunk == "" {
			return nil
		}
		if !s.emit(callCtx, chunk) {
			return callCtx.Err()
		}
		delivered = true
		return nil
	})
	if err == nil && !delivered {
		err = llm.ErrEmptyResponse
	}
	if err == nil {
		return
	}

	span.SetStatus(codes.Error, err.Error())
	s.setErr(err)
	if ctx.Err() != nil {
		return
	}
	h.logger.Warn("interpretation model failed; using fallback",
		zap.String("reading_id", in.Spread.ReadingID),
		zap.Bool("partial", delivered),
		zap.Error(err),
	)
	text := Fallback(in.Spread)
	if delivered {
		text = "\n\n" + text
	}
	s.fellBack.Store(true)
	s.emit(ctx, text)
}
