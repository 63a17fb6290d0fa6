package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/services/workqueue"
)

// JobLookup finds background jobs by id.
type JobLookup interface {
	Lookup(id string) (workqueue.TaskSnapshot, bool)
}

// JobsHandler reports background job progress.
type JobsHandler struct {
	jobs   JobLookup
	logger *zap.Logger
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(jobs JobLookup, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, logger: logger.Named("jobs_handler")}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
}

// Get handles GET /api/jobs/{id}
// A chained job stays pending until the job before it has finished.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.jobs.Lookup(r.PathValue("id"))
	if !ok {
		if err := ErrorResponse(w, http.StatusNotFound, "job_not_found", "Job not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeOK(w, h.logger, http.StatusOK, snap)
}
