package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chronicleaudio/chronicle/internal/ports"
)

// JobHandler exposes job status lookups for polling clients.
type JobHandler struct {
	scheduler ports.Scheduler
}

func NewJobHandler(scheduler ports.Scheduler) *JobHandler {
	return &JobHandler{scheduler: scheduler}
}

// Get handles GET /jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "job id is required")
		return
	}
	job, err := h.scheduler.Job(r.Context(), jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
