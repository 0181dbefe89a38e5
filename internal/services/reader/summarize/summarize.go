// Package summarize compresses older conversation turns into a running
// summary once the conversation grows past a threshold.
package summarize

import (
	"context"
	"errors"
	"fmt"
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

const (
	// DefaultThreshold is the user/assistant message count that triggers a
	// summary once exceeded.
	DefaultThreshold = 20
	// DefaultKeepRecent is how many trailing messages stay verbatim.
	DefaultKeepRecent = 3

	summaryMaxTokens = 600
)

// ErrFailed indicates the summary model call failed; no summary was produced.
var ErrFailed = errors.New("summarization failed")

// Input is one summarization request.
type Input struct {
	Messages []llm.Message
	Existing *reading.Summary
	// Threshold falls back to the summarizer default when zero.
	Threshold int
	// KeepRecent falls back to the summarizer default when nil. Zero keeps
	// no messages verbatim.
	KeepRecent *int
}

// Result reports what the caller should do with its history.
type Result struct {
	NeedsSummarization bool
	// Performed is true when Summary holds a new summary.
	Performed       bool
	Summary         *reading.Summary
	MessagesRemoved int
	// Recent holds the trailing conversational messages the caller keeps.
	Recent []llm.Message
}

// Summarizer calls a text model to produce summaries.
type Summarizer struct {
	model      llm.TextModel
	threshold  int
	keepRecent int
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithThreshold sets the default trigger threshold.
func WithThreshold(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithKeepRecent sets the default count of verbatim trailing messages.
func WithKeepRecent(n int) Option {
	return func(s *Summarizer) {
		if n >= 0 {
			s.keepRecent = n
		}
	}
}

// WithTimeout bounds the model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Summarizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Summarizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a summarizer.
func New(model llm.TextModel, opts ...Option) *Summarizer {
	s := &Summarizer{
		model:      model,
		threshold:  DefaultThreshold,
		keepRecent: DefaultKeepRecent,
		timeout:    timeouts.Summarize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the default trigger threshold.
func (s *Summarizer) Threshold() int { return s.threshold }

// KeepRecent returns the default count of verbatim trailing messages.
func (s *Summarizer) KeepRecent() int { return s.keepRecent }

// Summarize produces a summary covering the existing summary and every
// conversational message except the last KeepRecent. When the threshold is
// not exceeded, or KeepRecent covers every message, it returns
// NeedsSummarization=false without calling the model.
// On model failure it returns NeedsSummarization=true, Performed=false and an
// error wrapping ErrFailed.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (Result, error) {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}
	keep := s.keepRecent
	if in.KeepRecent != nil && *in.KeepRecent >= 0 {
		keep = *in.KeepRecent
	}

	conv := llm.ConversationalOnly(in.Messages)
	if len(conv) <= threshold || keep >= len(conv) {
		// Nothing would be replaced.
		return Result{}, nil
	}
	older := conv[:len(conv)-keep]
	result := Result{
		NeedsSummarization: true,
		MessagesRemoved:    len(older),
		Recent:             conv[len(conv)-keep:],
	}

	ctx, span := otel.Tracer("reader/summarize").Start(ctx, "reader.summarize")
	defer span.End()
	span.SetAttributes(attribute.Int("summary.messages_removed", len(older)))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := llm.CompleteText(ctx, s.model, llm.TextRequest{
		System:    prompt.SummaryPersona,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: transcript(in.Existing, older)}},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("summarize conversation", zap.Int("messages", len(conv)), zap.Error(err))
		return Result{NeedsSummarization: true}, fmt.Errorf("%w: %w", ErrFailed, err)
	}

	replaced := len(older)
	if !in.Existing.Empty() {
		replaced += in.Existing.MessagesReplaced
	}
	result.Performed = true
	result.Summary = &reading.Summary{Text: text, MessagesReplaced: replaced}
	return result, nil
}

func transcript(existing *reading.Summary, messages []llm.Message) string {
	var b strings.Builder
	if !existing.Empty() {
		b.WriteString("Earlier summary:\n")
		b.WriteString(strings.TrimSpace(existing.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation to summarize:\n")
	for _, m := range messages {
		speaker := "Reader"
		if m.Role == llm.RoleUser {
			speaker = "Querent"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(m.Content))
	}
	return b.String()
}

// Window returns at most limit trailing messages. Leading tool results whose
// originating tool call fell outside the window are dropped so the slice
// stays a valid model transcript. A non-positive limit returns messages as is.
func Window(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	out := messages[len(messages)-limit:]
	for len(out) > 0 && out[0].Role == llm.RoleTool {
		out = out[1:]
	}
	return out
}
