// Package httpx provides the JSON HTTP API for the assessment job engine.
package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// JobService is the job-facing contract the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req *model.CreateJobRequest) (*model.Job, *model.Result, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id, reason string) (model.TransitionOutcome, error)
}

// Syncer reconciles one job against its result record.
type Syncer interface {
	Sync(ctx context.Context, jobID string) (model.SyncResult, error)
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    JobService
	Syncer Syncer
}

type submitResponse struct {
	Job    *model.Job    `json:"job"`
	Result *model.Result `json:"result"`
}

// CreateJob handles POST /api/jobs.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, res, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, err, "create_failed")
		return
	}

	WriteJSON(w, http.StatusCreated, submitResponse{Job: job, Result: res})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, "get_failed")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/{id}/cancel. The body is optional.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeOptionalJSON(w, r, &body) {
		return
	}

	out, err := h.Svc.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		WriteServiceError(w, err, "cancel_failed")
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// SyncJob handles POST /api/jobs/{id}/sync.
func (h *JobHandlers) SyncJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.Syncer.Sync(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, "sync_failed")
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return "", false
	}
	return id, true
}

// decodeOptionalJSON behaves like DecodeJSON but accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	if len(body) == 0 {
		return true
	}
	return decodeBytes(w, body, dst)
}
