package httpapi

import (
	"net/http"

	apperrors "github.com/louisbranch/tarot.space/internal/platform/errors"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"github.com/louisbranch/tarot.space/internal/services/reader/summarize"
	"go.uber.org/zap"
)

type summarizeRequest struct {
	Messages        []llm.Message    `json:"messages"`
	ExistingSummary *reading.Summary `json:"existingSummary,omitempty"`
	Threshold       int              `json:"threshold,omitempty"`
	// KeepRecent is optional; zero keeps no messages verbatim.
	KeepRecent      *int             `json:"keepRecent,omitempty"`
}

type summarizeResponse struct {
	NeedsSummarization bool             `json:"needsSummarization"`
	Summary            *reading.Summary `json:"summary,omitempty"`
	MessagesRemoved    int              `json:"messagesRemoved,omitempty"`
}

func (h *Handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body summarizeRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Threshold < 0 || (body.KeepRecent != nil && *body.KeepRecent < 0) {
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "threshold and keepRecent must not be negative"))
		return
	}

	result, err := h.summarizer.Summarize(r.Context(), summarize.Input{
		Messages:   body.Messages,
		Existing:   body.ExistingSummary,
		Threshold:  body.Threshold,
		KeepRecent: body.KeepRecent,
	})
	if err != nil {
		// The caller keeps its full history and retries later.
		h.logger.Warn("summarize request failed", zap.Error(err))
		writeJSON(w, http.StatusOK, summarizeResponse{NeedsSummarization: true})
		return
	}
	resp := summarizeResponse{NeedsSummarization: result.NeedsSummarization}
	if result.Performed {
		resp.Summary = result.Summary
		resp.MessagesRemoved = result.MessagesRemoved
	}
	writeJSON(w, http.StatusOK, resp)
}
