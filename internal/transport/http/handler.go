package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
	"pharmyrus/internal/search"
	"pharmyrus/internal/service"
)

type Handler struct {
	jobSvc  *service.JobService
	search  search.Func
	version string
}

func NewHandler(jobSvc *service.JobService, searchFn search.Func, version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{jobSvc: jobSvc, search: searchFn, version: version}
}

type searchRequestDTO struct {
	Molecule    string   `json:"molecule"`
	Countries   []string `json:"countries,omitempty"`
	IncludeWIPO bool     `json:"include_wipo"`
}

type jobEndpoints struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Cancel string `json:"cancel"`
}

type submitResp struct {
	JobID         string       `json:"job_id"`
	Status        string       `json:"status"`
	Message       string       `json:"message"`
	EstimatedTime string       `json:"estimated_time"`
	Endpoints     jobEndpoints `json:"endpoints"`
}

type statusResp struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	Step           string  `json:"step,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Message        string  `json:"message"`
}

type cancelResp struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type healthResp struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Redis     string `json:"redis"`
	Timestamp string `json:"timestamp"`
}

func decodeSearchRequest(r *http.Request) (*searchRequestDTO, error) {
	var dto searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return nil, errors.New("invalid json")
	}
	if dto.Molecule == "" {
		return nil, errors.New("molecule is required")
	}
	if len(dto.Countries) == 0 {
		dto.Countries = []string{"BR"}
	}
	return &dto, nil
}

// SubmitSearch godoc
// @Summary Submit an asynchronous patent search
// @Description Creates a queued job and returns its id immediately. Poll the status endpoint every 5-10 seconds, then fetch the result.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body searchRequestDTO true "search parameters"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitSearch(w http.ResponseWriter, r *http.Request) {
	dto, err := decodeSearchRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := json.Marshal(dto)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid input")
		return
	}

	id, err := h.jobSvc.Submit(r.Context(), input)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	estimated := "5-15 minutes"
	if dto.IncludeWIPO {
		estimated = "30-60 minutes"
	}

	writeJSON(w, http.StatusAccepted, submitResp{
		JobID:         id.String(),
		Status:        string(entity.StatusQueued),
		Message:       fmt.Sprintf("Search started for %s. Use the status endpoint to track progress.", dto.Molecule),
		EstimatedTime: estimated,
		Endpoints: jobEndpoints{
			Status: fmt.Sprintf("/jobs/%s/status", id),
			Result: fmt.Sprintf("/jobs/%s/result", id),
			Cancel: fmt.Sprintf("/jobs/%s", id),
		},
	})
}

// GetStatus godoc
// @Summary Get job status and progress
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} statusResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobSvc.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "failed to read job")
		return
	}

	writeJSON(w, http.StatusOK, statusResp{
		JobID:          j.ID.String(),
		Status:         string(j.Status),
		Progress:       j.Progress,
		Step:           j.Step,
		ElapsedSeconds: j.ElapsedSeconds(time.Now().UTC()),
		Message:        statusMessage(j),
	})
}

func statusMessage(j *entity.Job) string {
	switch j.Status {
	case entity.StatusQueued:
		return "Job is queued, waiting to start..."
	case entity.StatusRunning:
		step := j.Step
		if step == "" {
			step = "Processing..."
		}
		return "Currently: " + step
	case entity.StatusSucceeded:
		return "Search completed successfully. Use the result endpoint to get data."
	case entity.StatusFailed:
		msg := "Unknown error"
		if j.Error != nil && j.Error.Message != "" {
			msg = j.Error.Message
		}
		return "Search failed: " + msg
	case entity.StatusCancelled:
		return "Job was cancelled."
	}
	return "Job state: " + string(j.Status)
}

// GetResult godoc
// @Summary Get the final search result
// @Description Returns the result payload verbatim once the job has succeeded; 400 with the current status otherwise.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	payload, err := h.jobSvc.Result(r.Context(), id)
	if err != nil {
		var notReady *service.NotReadyError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeErr(w, http.StatusNotFound, "job not found")
		case errors.As(err, &notReady):
			writeErrStatus(w, http.StatusBadRequest,
				fmt.Sprintf("Result not ready. Current status: %s. Use the status endpoint.", notReady.Status),
				string(notReady.Status))
		default:
			writeErr(w, http.StatusInternalServerError, "failed to read job")
		}
		return
	}

	// Raw passthrough, no re-encoding.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// CancelJob godoc
// @Summary Request job cancellation
// @Description Best-effort: queued jobs are cancelled immediately, running jobs stop at their next checkpoint. Idempotent.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} cancelResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	status, err := h.jobSvc.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeErr(w, http.StatusNotFound, "job not found")
		case errors.Is(err, repository.ErrNotCancellable):
			writeErrStatus(w, http.StatusConflict,
				fmt.Sprintf("Cannot cancel job in state: %s", status), string(status))
		default:
			writeErr(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	msg := "Job cancelled."
	if status == entity.StatusRunning {
		msg = "Cancellation requested; the job will stop at its next checkpoint."
	}
	writeJSON(w, http.StatusOK, cancelResp{
		JobID:   id.String(),
		Status:  string(status),
		Message: msg,
	})
}

// SearchSync godoc
// @Summary Synchronous patent search
// @Description Runs the search inline and returns the payload. WIPO is never included to keep latency bounded.
// @Tags search
// @Accept json
// @Produce json
// @Param request body searchRequestDTO true "search parameters"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /search [post]
func (h *Handler) SearchSync(w http.ResponseWriter, r *http.Request) {
	dto, err := decodeSearchRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	dto.IncludeWIPO = false

	input, err := json.Marshal(dto)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid input")
		return
	}

	payload, err := h.search(r.Context(), input, nil)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// Health godoc
// @Summary Liveness of the job store connection
// @Tags health
// @Produce json
// @Success 200 {object} healthResp
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	redisStatus := "connected"
	status := "healthy"
	if err := h.jobSvc.Ping(r.Context()); err != nil {
		redisStatus = "error: " + err.Error()
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResp{
		Status:    status,
		Version:   h.version,
		Redis:     redisStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
