package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tarot.space/internal/platform/errors"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
)

// drawRequest is the POST /rng/draw body. Reversals default to allowed.
type drawRequest struct {
	N               *int  `json:"n"`
	AllowDuplicates bool  `json:"allowDuplicates"`
	AllowReversals  *bool `json:"allowReversals"`
}

func (r drawRequest) toDraw() (draw.Request, error) {
	if r.N == nil {
		return draw.Request{}, apperrors.New(apperrors.CodeInvalidArgument, "n is required")
	}
	req := draw.Request{N: *r.N, AllowDuplicates: r.AllowDuplicates, AllowReversals: true}
	if r.AllowReversals != nil {
		req.AllowReversals = *r.AllowReversals
	}
	return req, req.Validate()
}

type recordResponse struct {
	Request    draw.Request    `json:"request"`
	Draws      []draw.Card     `json:"draws"`
	Provenance draw.Provenance `json:"provenance"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (h *Handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	var body drawRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := body.toDraw()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.drawer.Draw(r.Context(), req)
	if err != nil {
		if draw.IsExhausted(err) && result.Provenance.ID != "" {
			err = apperrors.WithMetadata(apperrors.CodeEntropyExhausted, draw.ErrEntropyExhausted.Error(),
				map[string]string{"drawId": result.Provenance.ID})
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetDraw(w http.ResponseWriter, r *http.Request) {
	drawID := strings.TrimSpace(r.PathValue("id"))
	if drawID == "" {
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "draw id is required"))
		return
	}
	if h.provenance == nil {
		h.writeError(w, r, apperrors.New(apperrors.CodeNotFound, "draw not found"))
		return
	}
	rec, err := h.provenance.GetDraw(r.Context(), drawID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	draws := rec.Draws
	if draws == nil {
		draws = []draw.Card{}
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Request:    rec.Request,
		Draws:      draws,
		Provenance: rec.Provenance,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
	})
}
