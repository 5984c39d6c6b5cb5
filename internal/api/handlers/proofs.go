package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcs"
)

// ProofsHandler handles payment proof uploads.
type ProofsHandler struct {
	filings FilingService
	storage gcs.StorageService
	log     zerolog.Logger
}

// NewProofsHandler creates a new proofs handler.
func NewProofsHandler(filings FilingService, storage gcs.StorageService, log zerolog.Logger) *ProofsHandler {
	return &ProofsHandler{filings: filings, storage: storage, log: log}
}

// UploadProof handles POST /api/filings/{id}/proof-upload with a multipart
// "file" field. It returns the document_ref for the payment-proof call.
func (h *ProofsHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	f, err := authorize(ctx, h.filings, id)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	if f.IsFinalized() {
		writeEngineError(w, reqLog(r, h.log), domain.FilingLocked("UploadProof", id))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, gcs.MaxProofSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), domain.Validation("UploadProof", "a \"file\" form field is required: %v", err))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := gcs.ValidateProof(contentType, header.Size); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}

	ref, err := h.storage.UploadProof(ctx, f.UserID, f.ID, header.Filename, contentType, file)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), domain.StoreUnavailable("UploadProof", err))
		return
	}

	log := reqLog(r, h.log)
	log.Info().
		Str("filing_id", id).
		Str("document_ref", ref).
		Int64("bytes", header.Size).
		Msg("Payment proof uploaded")

	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"document_ref": ref,
	})
}
