package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/tarot.space/internal/platform/errors"
	"github.com/louisbranch/tarot.space/internal/platform/id"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"github.com/louisbranch/tarot.space/internal/services/reader/stream"
	"github.com/louisbranch/tarot.space/internal/services/reader/summarize"
	"github.com/louisbranch/tarot.space/internal/services/reader/turn"
	"go.uber.org/zap"
)

// chatRequest is the POST /chat body. Without SessionID the body carries the
// whole session; with it, Messages are appended to the server-held session
// and the remaining fields are ignored.
type chatRequest struct {
	SessionID           string                `json:"sessionId,omitempty"`
	Messages            []llm.Message         `json:"messages"`
	ActiveSpread        *reading.ActiveSpread `json:"activeSpread,omitempty"`
	SpreadLedger        []reading.LedgerEntry `json:"spreadLedger,omitempty"`
	ConversationSummary *reading.Summary      `json:"conversationSummary,omitempty"`
}

func validateMessages(messages []llm.Message) error {
	if len(messages) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "messages are required")
	}
	for i, m := range messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
		default:
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("messages[%d]: unsupported role %q", i, m.Role))
		}
	}
	last := messages[len(messages)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "the last message must be a non-empty user message")
	}
	return nil
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateMessages(body.Messages); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.SessionID) != "" {
		h.chatInSession(w, r, body)
		return
	}

	h.streamTurn(w, r, turn.Input{
		TurnID:       id.MustNewID(),
		History:      body.Messages,
		Summary:      body.ConversationSummary,
		ActiveSpread: body.ActiveSpread,
		Ledger:       body.SpreadLedger,
	})
}

func (h *Handler) chatInSession(w http.ResponseWriter, r *http.Request, body chatRequest) {
	if h.sessions == nil {
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "sessions are not enabled"))
		return
	}
	state, release, err := h.sessions.Acquire(r.Context(), body.SessionID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		h.writeError(w, r, err)
		return
	}
	defer release()

	logger := h.logger.With(zap.String("session_id", state.ID))
	history := append(append([]llm.Message(nil), state.History...), body.Messages...)
	summary := state.Summary

	result, err := h.summarizer.Summarize(r.Context(), summarize.Input{Messages: history, Existing: summary})
	switch {
	case err != nil:
		// The turn controller still bounds the history it sends.
		logger.Warn("session summarization failed", zap.Error(err))
	case result.Performed:
		summary = result.Summary
		history = result.Recent
		logger.Debug("session summarized", zap.Int("messages_removed", result.MessagesRemoved))
	}

	outcome := h.streamTurn(w, r, turn.Input{
		TurnID:       id.MustNewID(),
		History:      history,
		Summary:      summary,
		ActiveSpread: state.ActiveSpread,
		Ledger:       state.Ledger,
	})

	// Stored history is bounded even while summarization keeps failing.
	state.History = summarize.Window(append(history, outcome.Messages...), h.window)
	state.Summary = summary
	state.ActiveSpread = outcome.ActiveSpread
	state.Ledger = outcome.Ledger
}

// streamTurn runs a turn and relays its events as server-sent events. A
// caller that goes away cancels the turn.
func (h *Handler) streamTurn(w http.ResponseWriter, r *http.Request, in turn.Input) turn.Outcome {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sender := stream.NewSender(h.eventBuffer)
	outcomes := make(chan turn.Outcome, 1)
	go func() {
		outcomes <- h.turns.Run(ctx, in, sender)
	}()

	if err := stream.WriteSSE(ctx, w, sender.Events()); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("stream turn events", zap.String("turn_id", in.TurnID), zap.Error(err))
	}
	cancel()
	outcome := <-outcomes
	if outcome.Err != nil && !errors.Is(outcome.Err, context.Canceled) {
		h.logger.Warn("turn ended with error",
			zap.String("turn_id", outcome.TurnID),
			zap.String("outcome", outcome.State.String()),
			zap.Error(outcome.Err),
		)
	}
	return outcome
}
