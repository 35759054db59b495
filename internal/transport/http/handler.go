package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"moderation-pipeline/internal/entity"
	"moderation-pipeline/internal/monitor"
	"moderation-pipeline/internal/repository/postgresql"
	"moderation-pipeline/internal/service"
)

// FleetChecker is the liveness port for the /fleet endpoint.
type FleetChecker interface {
	Check(ctx context.Context) monitor.Snapshot
}

type Handler struct {
	jobSvc    *service.JobService
	reportSvc *service.ReportService
	fleet     FleetChecker
}

func NewHandler(jobSvc *service.JobService, reportSvc *service.ReportService, fleet FleetChecker) *Handler {
	return &Handler{jobSvc: jobSvc, reportSvc: reportSvc, fleet: fleet}
}

type submitJobDTO struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Category  string `json:"category,omitempty"`
	ServerTag string `json:"server_tag,omitempty"`
}

type jobResp struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Content              string   `json:"content"`
	Author               string   `json:"author"`
	Category             string   `json:"category,omitempty"`
	ServerTag            string   `json:"server_tag,omitempty"`
	Status               string   `json:"status"`
	AssignedWorker       *string  `json:"assigned_worker,omitempty"`
	DecisionDetail       *string  `json:"decision_detail,omitempty"`
	Score                *float64 `json:"score,omitempty"`
	ReviewReason         *string  `json:"review_reason,omitempty"`
	CreatedAt            string   `json:"created_at"`
	CompletedAt          *string  `json:"completed_at,omitempty"`
	ProcessingDurationMs *int64   `json:"processing_duration_ms,omitempty"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:                   j.ID.String(),
		Title:                j.Title,
		Content:              j.Content,
		Author:               j.Author,
		Category:             j.Category,
		ServerTag:            j.ServerTag,
		Status:               string(j.Status),
		AssignedWorker:       j.AssignedWorker,
		DecisionDetail:       j.DecisionDetail,
		Score:                j.Score,
		ReviewReason:         j.ReviewReason,
		CreatedAt:            j.CreatedAt.Format(time.RFC3339),
		ProcessingDurationMs: j.ProcessingDurationMs,
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// SubmitJob godoc
// @Summary Submit content for moderation
// @Description Persists the job as pending and enqueues it for classification. If the queue is down the job is still created and can be replayed.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "submission payload"
// @Success 201 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		Title:     dto.Title,
		Content:   dto.Content,
		Author:    dto.Author,
		Category:  dto.Category,
		ServerTag: dto.ServerTag,
	})
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			writeErr(w, r, http.StatusBadRequest, vErr.Error())
			return
		}
		writeErr(w, r, http.StatusInternalServerError, "could not create job")
		return
	}

	writeJSON(w, http.StatusCreated, toJobResp(job))
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid id")
		return
	}

	job, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, r, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(job))
}

// ListJobs godoc
// @Summary List jobs
// @Description Read-only range scan, filtered by status and creation-time window.
// @Tags jobs
// @Produce json
// @Param status query string false "filter by status"
// @Param since query string false "RFC3339 lower bound on created_at"
// @Param until query string false "RFC3339 upper bound on created_at"
// @Param limit query int false "max results"
// @Success 200 {array} jobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var filter postgresql.JobFilter

	if s := r.URL.Query().Get("status"); s != "" {
		status := entity.JobStatus(s)
		if !status.Valid() {
			writeErr(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		filter.Status = status
	}
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, "invalid since")
			return
		}
		filter.Since = t
	}
	if s := r.URL.Query().Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, "invalid until")
			return
		}
		filter.Until = t
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeErr(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.jobSvc.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, r, http.StatusInternalServerError, "could not list jobs")
		return
	}

	out := make([]jobResp, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResp(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ReplayJob godoc
// @Summary Re-enqueue a pending job
// @Description Publishes the work item of a job that was persisted while the queue was unreachable. Only pending jobs can be replayed.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} map[string]string
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Failure 503 {object} apiError
// @Router /jobs/{id}/replay [post]
func (h *Handler) ReplayJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid id")
		return
	}

	switch err := h.jobSvc.Replay(r.Context(), id); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, r, http.StatusNotFound, "job not found")
	case errors.Is(err, service.ErrNotReplayable):
		writeErr(w, r, http.StatusConflict, "job is not pending")
	case errors.Is(err, service.ErrQueueUnavailable):
		writeErr(w, r, http.StatusServiceUnavailable, "work queue unavailable")
	default:
		writeErr(w, r, http.StatusInternalServerError, "could not replay job")
	}
}

// Stats godoc
// @Summary Aggregated moderation statistics
// @Tags reporting
// @Produce json
// @Success 200 {object} service.Stats
// @Failure 500 {object} apiError
// @Router /stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reportSvc.Overview(r.Context())
	if err != nil {
		writeErr(w, r, http.StatusInternalServerError, "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Fleet godoc
// @Summary Worker fleet liveness snapshot
// @Tags reporting
// @Produce json
// @Success 200 {object} monitor.Snapshot
// @Router /fleet [get]
func (h *Handler) Fleet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fleet.Check(r.Context()))
}
