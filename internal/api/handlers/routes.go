// Package handlers is the JSON HTTP adapter over the filing engine.
package handlers

import (
	"net/http"
	"time"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
)

// Routes groups the handlers mounted by Register. Nil handlers leave
// their routes unregistered.
type Routes struct {
	Filings *FilingsHandler
	Records *RecordsHandler
	Proofs  *ProofsHandler
	Admin   *AdminHandler
	Jobs    *JobsHandler
}

// Register mounts every route on mux.
func Register(mux *http.ServeMux, rt Routes) {
	if h := rt.Filings; h != nil {
		mux.HandleFunc("POST /api/filings", h.CreateFiling)
		mux.HandleFunc("GET /api/filings", h.ListFilings)
		mux.HandleFunc("GET /api/filings/{id}", h.GetFiling)
		mux.HandleFunc("GET /api/filings/{id}/state", h.GetState)
		mux.HandleFunc("POST /api/filings/{id}/advance", h.AdvanceStep)
		mux.HandleFunc("POST /api/filings/{id}/profile", h.UpdateProfile)
		mux.HandleFunc("POST /api/filings/{id}/declare-none", h.DeclareNone)
		mux.HandleFunc("POST /api/filings/{id}/confirm", h.ConfirmStep)
		mux.HandleFunc("POST /api/filings/{id}/records-changed", h.RecordsChanged)
		mux.HandleFunc("POST /api/filings/{id}/payment-proof", h.AttachPaymentProof)
		mux.HandleFunc("POST /api/filings/{id}/finalize", h.Finalize)
		mux.HandleFunc("POST /api/filings/{id}/amend", h.Amend)
	}

	if h := rt.Records; h != nil {
		mux.HandleFunc("GET /api/filings/{id}/records", h.ListRecords)
		mux.HandleFunc("PUT /api/filings/{id}/records", h.PutRecord)
		mux.HandleFunc("DELETE /api/filings/{id}/records/{recordID}", h.DeleteRecord)
	}

	if h := rt.Proofs; h != nil {
		mux.HandleFunc("POST /api/filings/{id}/proof-upload", h.UploadProof)
	}

	if h := rt.Admin; h != nil {
		mux.Handle("GET /api/admin/review-queue", middleware.RequireAdmin(http.HandlerFunc(h.ReviewQueue)))
		mux.Handle("POST /api/admin/filings/{id}/verify-payment", middleware.RequireAdmin(http.HandlerFunc(h.VerifyPayment)))
	}

	if h := rt.Jobs; h != nil {
		mux.HandleFunc("GET /api/jobs", h.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
}
