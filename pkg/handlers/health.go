package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/config"
	"github.com/new-bakery/nga/pkg/services/workqueue"
)

// HealthResponse contains service status and job queue state.
type HealthResponse struct {
	Status      string              `json:"status"`
	Version     string              `json:"version"`
	Jobs        *workqueue.Progress `json:"jobs,omitempty"`
	Connections *int                `json:"connections,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ProgressSource reports job queue progress.
type ProgressSource interface {
	Progress() workqueue.Progress
}

// ConnectionCounter reports the number of cached source connections.
type ConnectionCounter interface {
	Count() int
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg         *config.Config
	jobs        ProgressSource
	connections ConnectionCounter
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. jobs and connections may be nil.
func NewHealthHandler(cfg *config.Config, jobs ProgressSource, connections ConnectionCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, jobs: jobs, connections: connections, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	}
	if h.jobs != nil {
		p := h.jobs.Progress()
		response.Jobs = &p
	}
	if h.connections != nil {
		n := h.connections.Count()
		response.Connections = &n
	}
	writeOK(w, h.logger, http.StatusOK, response)
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	writeOK(w, h.logger, http.StatusOK, PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "nga",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	})
}
