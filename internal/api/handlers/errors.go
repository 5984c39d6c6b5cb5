package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// ErrorBody is the JSON shape of every engine error response.
type ErrorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Reasons []domain.Reason `json:"reasons,omitempty"`
	Unmet   []domain.StepID `json:"unmet,omitempty"`
}

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeDataIntegrity, domain.CodeFinalizationBlocked:
		return http.StatusUnprocessableEntity
	case domain.CodeStepNotReady, domain.CodeVersionConflict, domain.CodeAlreadyExists:
		return http.StatusConflict
	case domain.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeFilingLocked:
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

// writeEngineError writes err as an ErrorBody. Errors without a code are
// logged and hidden behind a generic message.
func writeEngineError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Error().Err(err).Msg("Unexpected handler error")
		middleware.WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: "Internal server error"})
		return
	}

	status := StatusFor(de.Code)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("code", string(de.Code)).Str("filing_id", de.FilingID).Msg("Request failed")

	body := ErrorBody{Error: de.Error(), Code: string(de.Code), Reasons: de.Reasons, Unmet: de.Unmet}
	if de.Code == domain.CodeStoreUnavailable {
		w.Header().Set("Retry-After", "1")
		body.Error = "Store unavailable, retry later"
	}
	middleware.WriteJSON(w, status, body)
}
