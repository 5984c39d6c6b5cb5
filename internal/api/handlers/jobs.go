package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
)

// JobsHandler exposes background recompute and scan jobs.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		FilingID: query.Get("filing_id"),
		Type:     jobs.JobType(query.Get("type")),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := query.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeEngineError(w, reqLog(r, h.log), domain.Validation("ListJobs", "%s must be a non-negative integer", name))
			return
		}
		*dst = n
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.FilingJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
