package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type createJobDTO struct {
	Inputs   []string          `json:"inputs"`
	Config   map[string]string `json:"config,omitempty"`
	Priority *int              `json:"priority,omitempty"` // 0=low,1=normal,2=high (nil => default 1)
	ForceRun bool              `json:"force_run,omitempty"`
}

type createJobResp struct {
	ID string `json:"id"`
}

type cancelJobResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type jobResp struct {
	ID         string                   `json:"id"`
	State      entity.JobState          `json:"state"`
	Progress   float64                  `json:"progress"`
	Priority   int                      `json:"priority"`
	Inputs     []entity.InputDescriptor `json:"inputs"`
	Config     map[string]string        `json:"config"`
	Stages     []entity.Stage           `json:"stages"`
	Logs       []string                 `json:"logs"`
	Error      *string                  `json:"error,omitempty"`
	CreatedAt  string                   `json:"created_at"`
	UpdatedAt  string                   `json:"updated_at"`
	FinishedAt *string                  `json:"finished_at,omitempty"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:        j.ID.String(),
		State:     j.State,
		Progress:  j.Progress,
		Priority:  j.Priority,
		Inputs:    j.Inputs,
		Config:    j.Config,
		Stages:    j.Stages,
		Logs:      make([]string, 0, len(j.Logs)),
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	for _, l := range j.Logs {
		resp.Logs = append(resp.Logs, l.String())
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrEmptyInputs), errors.Is(err, entity.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrNotRunning), errors.Is(err, entity.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// CreateJob godoc
// @Summary Submit a meeting processing job
// @Description Resolves the inputs, registers the job (pending) and enqueues it for a worker.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job payload (priority: 0=low,1=normal,2=high)"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	priority := service.PriorityNormal
	if dto.Priority != nil {
		priority = *dto.Priority
	}

	cfg := entity.Config(dto.Config).Clone()
	if cfg == nil {
		cfg = entity.Config{}
	}
	if dto.ForceRun {
		cfg[entity.OptForceRun] = "true"
	}

	id, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		Inputs:   dto.Inputs,
		Config:   cfg,
		Priority: priority,
	})
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{ID: id.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Description Live snapshot while the job is known to the runner, the stored copy afterwards.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(j))
}

// CancelJob godoc
// @Summary Cancel a job
// @Description A pending job is cancelled at once; a running job stops after its current stage.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} cancelJobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.jobSvc.Cancel(r.Context(), id); err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, cancelJobResp{ID: id.String(), Status: "cancel requested"})
}

// JobEvents godoc
// @Summary Stream job events
// @Description Server-sent events, one "job" event per observed change. The first event is the current snapshot with all log lines so far; the stream ends after the terminal event. A finished job no longer held in memory is sent from history as one terminal event.
// @Tags jobs
// @Produce text/event-stream
// @Param id path string true "job id (uuid)"
// @Success 200 {object} pipeline.Event
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/events [get]
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan pipeline.Event)
	gone := make(chan struct{})
	defer close(gone)

	unsubscribe, err := h.jobSvc.Subscribe(r.Context(), id, pipeline.ListenerFunc(func(ev pipeline.Event) {
		select {
		case events <- ev:
		case <-gone:
		}
	}))
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			b, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).WithField("job_id", id.String()).Error("encode job event")
				return
			}
			if _, err := fmt.Fprintf(w, "event: job\ndata: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

// ListHistory godoc
// @Summary List recent jobs
// @Tags history
// @Produce json
// @Param limit query int false "max jobs (default 50, max 500)"
// @Success 200 {array} jobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobSvc.History(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]jobResp, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResp(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListOptions godoc
// @Summary Configuration options
// @Description Every option a job config accepts, with its values and default.
// @Tags jobs
// @Produce json
// @Success 200 {array} entity.Option
// @Router /options [get]
func (h *Handler) ListOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entity.Options())
}
