package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// FilingService is the lifecycle surface the handlers drive.
type FilingService interface {
	CreateFiling(ctx context.Context, userID string, year int) (*domain.Filing, error)
	Get(ctx context.Context, id string) (*domain.Filing, error)
	ListFilings(ctx context.Context, userID string) ([]*domain.Filing, error)
	AdvanceStep(ctx context.Context, id string, target domain.StepID, expectedVersion int64) (*domain.Filing, error)
	UpdateProfile(ctx context.Context, id string, p domain.Profile, expectedVersion int64) (*domain.Filing, error)
	DeclareNone(ctx context.Context, id string, fam domain.Family, none bool, expectedVersion int64) (*domain.Filing, error)
	ConfirmStep(ctx context.Context, id string, step domain.StepID, expectedVersion int64) (*domain.Filing, error)
	AttachPaymentProof(ctx context.Context, id string, in filing.ProofInput, expectedVersion int64) (*domain.Filing, error)
	VerifyPayment(ctx context.Context, id string, dec filing.Decision, expectedVersion int64) (*domain.Filing, error)
	Finalize(ctx context.Context, id string, expectedVersion int64) (*domain.Filing, error)
	Amend(ctx context.Context, id string, expectedVersion int64) (*domain.Filing, error)
	PendingReview(ctx context.Context) ([]*domain.Filing, error)
}

// StateService is the engine facade.
type StateService interface {
	NotifyRecordChanged(ctx context.Context, id string, tag string) (domain.Snapshot, error)
	GetFilingState(ctx context.Context, id string) (*filing.State, error)
	RequestFinalize(ctx context.Context, id string) (*domain.Filing, error)
}

// FilingsHandler handles filing lifecycle endpoints.
type FilingsHandler struct {
	filings   FilingService
	engine    StateService
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewFilingsHandler creates a new filings handler. publisher may be nil, in
// which case record changes are always recomputed inline.
func NewFilingsHandler(filings FilingService, engine StateService, publisher jobs.Publisher, log zerolog.Logger) *FilingsHandler {
	return &FilingsHandler{
		filings:   filings,
		engine:    engine,
		publisher: publisher,
		log:       log,
	}
}

// reqLog returns the request-scoped logger set by middleware.Logger.
func reqLog(r *http.Request, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := r.Context().Value(logger.LoggerKey).(zerolog.Logger); ok {
		return l
	}
	return fallback
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}

// authorize loads the filing and hides filings of other users.
func authorize(ctx context.Context, filings FilingService, id string) (*domain.Filing, error) {
	f, err := filings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user := middleware.UserIDFrom(ctx); user != "" && user != f.UserID && !middleware.IsAdmin(ctx) {
		return nil, domain.NotFound("authorize", id)
	}
	return f, nil
}

// mutation decodes a body carrying expected_version, checks ownership and
// writes the resulting filing.
func (h *FilingsHandler) mutation(w http.ResponseWriter, r *http.Request, body any, version func() int64, fn func(ctx context.Context, id string, v int64) (*domain.Filing, error)) {
	ctx := r.Context()
	id := r.PathValue("id")
	log := reqLog(r, h.log)

	if err := decode(r, body); err != nil {
		writeEngineError(w, log, err)
		return
	}
	if _, err := authorize(ctx, h.filings, id); err != nil {
		writeEngineError(w, log, err)
		return
	}
	f, err := fn(ctx, id, version())
	if err != nil {
		writeEngineError(w, log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, f)
}

// CreateFiling handles POST /api/filings
func (h *FilingsHandler) CreateFiling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Year   int    `json:"year"`
	}
	log := reqLog(r, h.log)
	if err := decode(r, &req); err != nil {
		writeEngineError(w, log, err)
		return
	}
	user := middleware.UserIDFrom(r.Context())
	if user == "" {
		user = req.UserID
	}
	if user == "" {
		writeEngineError(w, log, domain.Validation("CreateFiling", "user_id is required"))
		return
	}

	f, err := h.filings.CreateFiling(r.Context(), user, req.Year)
	if err != nil {
		writeEngineError(w, log, err)
		return
	}
	log.Info().Str("filing_id", f.ID).Str("user_id", user).Int("year", f.Year).Msg("Filing created")
	middleware.WriteJSON(w, http.StatusCreated, f)
}

// ListFilings handles GET /api/filings
func (h *FilingsHandler) ListFilings(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserIDFrom(r.Context())
	if user == "" {
		user = r.URL.Query().Get("user_id")
	}
	if user == "" {
		writeEngineError(w, reqLog(r, h.log), domain.Validation("ListFilings", "user_id is required"))
		return
	}
	filings, err := h.filings.ListFilings(r.Context(), user)
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

// GetFiling handles GET /api/filings/{id}
func (h *FilingsHandler) GetFiling(w http.ResponseWriter, r *http.Request) {
	f, err := authorize(r.Context(), h.filings, r.PathValue("id"))
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, f)
}

// GetState handles GET /api/filings/{id}/state
func (h *FilingsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := authorize(ctx, h.filings, id); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	st, err := h.engine.GetFilingState(ctx, id)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// AdvanceStep handles POST /api/filings/{id}/advance
func (h *FilingsHandler) AdvanceStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step            domain.StepID `json:"step"`
		ExpectedVersion int64         `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		return h.filings.AdvanceStep(ctx, id, req.Step, v)
	})
}

// UpdateProfile handles POST /api/filings/{id}/profile
func (h *FilingsHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile         domain.Profile `json:"profile"`
		ExpectedVersion int64          `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		return h.filings.UpdateProfile(ctx, id, req.Profile, v)
	})
}

// DeclareNone handles POST /api/filings/{id}/declare-none
func (h *FilingsHandler) DeclareNone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Family          string `json:"family"`
		None            *bool  `json:"none"`
		ExpectedVersion int64  `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		fam, err := domain.ParseFamily(req.Family)
		if err != nil {
			return nil, domain.Validation("DeclareNone", "%v", err)
		}
		none := req.None == nil || *req.None
		return h.filings.DeclareNone(ctx, id, fam, none, v)
	})
}

// ConfirmStep handles POST /api/filings/{id}/confirm
func (h *FilingsHandler) ConfirmStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step            domain.StepID `json:"step"`
		ExpectedVersion int64         `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		return h.filings.ConfirmStep(ctx, id, req.Step, v)
	})
}

// AttachPaymentProof handles POST /api/filings/{id}/payment-proof
func (h *FilingsHandler) AttachPaymentProof(w http.ResponseWriter, r *http.Request) {
	var req struct {
		filing.ProofInput
		ExpectedVersion int64 `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		f, err := h.filings.AttachPaymentProof(ctx, id, req.ProofInput, v)
		if err == nil {
			h.enqueueScan(ctx, f)
		}
		return f, err
	})
}

// enqueueScan asks the worker to read the paid amount off a new proof.
// Failing to enqueue does not fail the attachment.
func (h *FilingsHandler) enqueueScan(ctx context.Context, f *domain.Filing) {
	if h.publisher == nil || f.PaymentProof == nil {
		return
	}
	job := &jobs.FilingJob{Type: jobs.JobTypeScanProof, FilingID: f.ID, DocumentRef: f.PaymentProof.DocumentRef}
	if err := h.publisher.Publish(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("filing_id", f.ID).Msg("Failed to enqueue proof scan")
	}
}

// Finalize handles POST /api/filings/{id}/finalize. Without an
// expected_version the stored version is used.
func (h *FilingsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpectedVersion int64 `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		if v == 0 {
			return h.engine.RequestFinalize(ctx, id)
		}
		return h.filings.Finalize(ctx, id, v)
	})
}

// Amend handles POST /api/filings/{id}/amend
func (h *FilingsHandler) Amend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpectedVersion int64 `json:"expected_version"`
	}
	h.mutation(w, r, &req, func() int64 { return req.ExpectedVersion }, func(ctx context.Context, id string, v int64) (*domain.Filing, error) {
		return h.filings.Amend(ctx, id, v)
	})
}

// RecordsChanged handles POST /api/filings/{id}/records-changed. With
// "async" the recompute is queued and 202 is returned with the job id.
func (h *FilingsHandler) RecordsChanged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	log := reqLog(r, h.log)

	var req struct {
		Tag   string `json:"tag"`
		Async bool   `json:"async"`
	}
	if err := decode(r, &req); err != nil {
		writeEngineError(w, log, err)
		return
	}
	if _, err := authorize(ctx, h.filings, id); err != nil {
		writeEngineError(w, log, err)
		return
	}

	if req.Async && h.publisher != nil {
		if _, err := domain.ParseTag(req.Tag); err != nil {
			writeEngineError(w, log, domain.Validation("RecordsChanged", "%v", err))
			return
		}
		job := &jobs.FilingJob{Type: jobs.JobTypeRecompute, FilingID: id, Tag: req.Tag}
		if err := h.publisher.Publish(ctx, job); err != nil {
			log.Error().Err(err).Str("filing_id", id).Msg("Failed to enqueue recompute job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue recompute job")
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"job_id":    job.JobID,
			"filing_id": id,
			"status":    string(job.Status),
		})
		return
	}

	snap, err := h.engine.NotifyRecordChanged(ctx, id, req.Tag)
	if err != nil {
		writeEngineError(w, log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}
