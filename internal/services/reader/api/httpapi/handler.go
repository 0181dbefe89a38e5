// Package httpapi exposes the reader over HTTP: the streamed chat endpoint,
// the standalone draw endpoint and the summarization helper.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/louisbranch/tarot.space/internal/platform/errors"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/session"
	"github.com/louisbranch/tarot.space/internal/services/reader/storage"
	"github.com/louisbranch/tarot.space/internal/services/reader/stream"
	"github.com/louisbranch/tarot.space/internal/services/reader/summarize"
	"github.com/louisbranch/tarot.space/internal/services/reader/turn"
	"go.uber.org/zap"
)

const (
	maxBodyBytes       = 1 << 20
	defaultEventBuffer = 16
)

// TurnRunner runs one conversation turn into a stream.
type TurnRunner interface {
	Run(ctx context.Context, in turn.Input, out *stream.Sender) turn.Outcome
}

// Drawer samples cards.
type Drawer interface {
	Draw(ctx context.Context, req draw.Request) (draw.Result, error)
}

// Summarizer compresses conversation history.
type Summarizer interface {
	Summarize(ctx context.Context, in summarize.Input) (summarize.Result, error)
}

// ProvenanceReader looks up recorded draws.
type ProvenanceReader interface {
	GetDraw(ctx context.Context, id string) (draw.Record, error)
}

// Deps are the collaborators behind the HTTP surface. Sessions and
// Provenance are optional.
type Deps struct {
	Turns      TurnRunner
	Drawer     Drawer
	Summarizer Summarizer
	Sessions   *session.Registry
	Provenance ProvenanceReader
	Logger     *zap.Logger

	// EventBuffer sizes the per-turn event channel.
	EventBuffer int
	// HistoryWindow bounds the history a server-held session keeps. Zero
	// keeps everything.
	HistoryWindow int
}

// Handler serves the reader HTTP endpoints.
type Handler struct {
	turns       TurnRunner
	drawer      Drawer
	summarizer  Summarizer
	sessions    *session.Registry
	provenance  ProvenanceReader
	logger      *zap.Logger
	eventBuffer int
	window      int
}

// NewHandler builds a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Turns == nil {
		return nil, errors.New("turn runner is required")
	}
	if deps.Drawer == nil {
		return nil, errors.New("drawer is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	h := &Handler{
		turns:       deps.Turns,
		drawer:      deps.Drawer,
		summarizer:  deps.Summarizer,
		sessions:    deps.Sessions,
		provenance:  deps.Provenance,
		logger:      deps.Logger,
		eventBuffer: deps.EventBuffer,
		window:      deps.HistoryWindow,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.eventBuffer <= 0 {
		h.eventBuffer = defaultEventBuffer
	}
	return h, nil
}

// RegisterRoutes registers the reader endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /chat/summarize", h.handleSummarize)
	mux.HandleFunc("POST /rng/draw", h.handleDraw)
	mux.HandleFunc("GET /rng/draws/{id}", h.handleGetDraw)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads one JSON object from the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.CodeInvalidArgument, "request body is required")
		}
		return apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}

// toDomainError maps package sentinels onto coded domain errors.
func toDomainError(err error) error {
	var domainErr *apperrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, draw.ErrInvalidCount):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	case errors.Is(err, draw.ErrTooManyUniqueCards):
		return apperrors.Wrap(apperrors.CodeTooManyUniqueCards, err.Error(), err)
	case draw.IsExhausted(err):
		return apperrors.Wrap(apperrors.CodeEntropyExhausted, draw.ErrEntropyExhausted.Error(), err)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "draw not found", err)
	case errors.Is(err, session.ErrInvalidID):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	default:
		return err
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := apperrors.ToPayload(toDomainError(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
