package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

// AdminHandler handles the payment review endpoints.
type AdminHandler struct {
	filings FilingService
	log     zerolog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(filings FilingService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{filings: filings, log: log}
}

// ReviewQueue handles GET /api/admin/review-queue
func (h *AdminHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	filings, err := h.filings.PendingReview(r.Context())
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	if filings == nil {
		filings = []*domain.Filing{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"filings": filings,
		"count":   len(filings),
	})
}

// VerifyPayment handles POST /api/admin/filings/{id}/verify-payment
func (h *AdminHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	log := reqLog(r, h.log)
	var req struct {
		filing.Decision
		ExpectedVersion int64 `json:"expected_version"`
	}
	if err := decode(r, &req); err != nil {
		writeEngineError(w, log, err)
		return
	}

	id := r.PathValue("id")
	f, err := h.filings.VerifyPayment(r.Context(), id, req.Decision, req.ExpectedVersion)
	if err != nil {
		writeEngineError(w, log, err)
		return
	}
	log.Info().
		Str("filing_id", id).
		Str("decision", string(req.Status)).
		Str("reviewer", middleware.UserIDFrom(r.Context())).
		Msg("Payment reviewed")
	middleware.WriteJSON(w, http.StatusOK, f)
}
