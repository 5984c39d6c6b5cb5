package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// RecordStore is the record CRUD surface behind the records endpoints.
type RecordStore interface {
	aggregate.RecordSource
	PutRecord(ctx context.Context, rec domain.CategoryRecord) (domain.CategoryRecord, error)
	DeleteRecord(ctx context.Context, filingID, recordID string) error
}

// RecordsHandler handles category record endpoints. Every write is followed
// by a recompute so the snapshot stays current.
type RecordsHandler struct {
	filings FilingService
	engine  StateService
	records RecordStore
	log     zerolog.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(filings FilingService, engine StateService, records RecordStore, log zerolog.Logger) *RecordsHandler {
	return &RecordsHandler{filings: filings, engine: engine, records: records, log: log}
}

// writable loads the filing and rejects finalized ones before the store is touched.
func (h *RecordsHandler) writable(ctx context.Context, id string) error {
	f, err := authorize(ctx, h.filings, id)
	if err != nil {
		return err
	}
	if f.IsFinalized() {
		return domain.FilingLocked("writeRecord", id)
	}
	return nil
}

// ListRecords handles GET /api/filings/{id}/records?family=income
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	fam, err := domain.ParseFamily(r.URL.Query().Get("family"))
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), domain.Validation("ListRecords", "%v", err))
		return
	}
	if _, err := authorize(ctx, h.filings, id); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}

	it, err := h.records.ListRecords(ctx, id, fam)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	defer it.Stop()

	records := []domain.CategoryRecord{}
	for {
		rec, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			writeEngineError(w, reqLog(r, h.log), err)
			return
		}
		records = append(records, rec)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// PutRecord handles PUT /api/filings/{id}/records
func (h *RecordsHandler) PutRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var rec domain.CategoryRecord
	if err := decode(r, &rec); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	rec.FilingID = id
	if err := h.writable(ctx, id); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}

	stored, err := h.records.PutRecord(ctx, rec)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	snap, err := h.engine.NotifyRecordChanged(ctx, id, string(stored.Tag))
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"record":   stored,
		"snapshot": snap,
	})
}

// DeleteRecord handles DELETE /api/filings/{id}/records/{recordID}?tag=salary
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	tag := r.URL.Query().Get("tag")

	if _, err := domain.ParseTag(tag); err != nil {
		writeEngineError(w, reqLog(r, h.log), domain.Validation("DeleteRecord", "%v", err))
		return
	}
	if err := h.writable(ctx, id); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	if err := h.records.DeleteRecord(ctx, id, r.PathValue("recordID")); err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	snap, err := h.engine.NotifyRecordChanged(ctx, id, tag)
	if err != nil {
		writeEngineError(w, reqLog(r, h.log), err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snap,
	})
}
