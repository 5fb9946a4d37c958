package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/target/assessment-jobs/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AdminService is the operator-facing contract the admin handlers depend on.
type AdminService interface {
	Stats(ctx context.Context) (*model.EngineStats, error)
	ListOrphans(ctx context.Context, limit int) ([]model.OrphanedJob, error)
	ListRetryExhausted(ctx context.Context, opts model.DeadLetterOptions) ([]*model.Job, error)
	ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	ForceSweep(ctx context.Context) (model.SweepReport, error)
	BulkCancel(ctx context.Context, req model.BulkCancelRequest) (model.BulkResult, error)
}

// AdminHandlers exposes engine statistics and cleanup operations.
type AdminHandlers struct {
	Svc AdminService
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err, "stats_failed")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Sweep handles POST /api/admin/sweep.
func (h *AdminHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Svc.ForceSweep(r.Context())
	if err != nil {
		WriteServiceError(w, err, "sweep_failed")
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// BulkCancel handles POST /api/admin/jobs/bulk-cancel.
func (h *AdminHandlers) BulkCancel(w http.ResponseWriter, r *http.Request) {
	var req model.BulkCancelRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: errors.New("ids are required")})
		return
	}
	res, err := h.Svc.BulkCancel(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, "bulk_cancel_failed")
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Orphans handles GET /api/admin/orphans.
func (h *AdminHandlers) Orphans(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	orphans, err := h.Svc.ListOrphans(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, err, "orphans_failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"orphans": orphans, "count": len(orphans)})
}

// DeadLetter handles GET /api/admin/jobs/dead-letter.
func (h *AdminHandlers) DeadLetter(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	jobs, err := h.Svc.ListRetryExhausted(r.Context(), model.DeadLetterOptions{
		UserID: optionalQuery(r, "user_id"),
		Limit:  limit,
	})
	if err != nil {
		WriteServiceError(w, err, "dead_letter_failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// ListJobs handles GET /api/admin/jobs.
func (h *AdminHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts, ok := jobListOptions(r)
	if !ok {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_filter", Err: errors.New("invalid status or type filter"),
		})
		return
	}
	jobs, err := h.Svc.ListJobs(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err, "list_failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": opts.Limit, "offset": opts.Offset})
}
