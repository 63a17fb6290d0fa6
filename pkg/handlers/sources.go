package handlers

import (
	"context"
	"maps"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
)

// SourceReader loads stored sources.
type SourceReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Source, *models.SchemaDocument, error)
}

// StatusReader loads the job status record of a source.
type StatusReader interface {
	Get(ctx context.Context, sourceID uuid.UUID) (models.JobStatus, error)
}

// SourceResponse is a source record with its schema document.
type SourceResponse struct {
	Source   *models.Source         `json:"source"`
	Document *models.SchemaDocument `json:"document"`
}

// JobResponse wraps the handle of a scheduled job.
type JobResponse struct {
	Job models.JobHandle `json:"job"`
}

// PreviewResponse holds preview rows.
type PreviewResponse struct {
	Entity string           `json:"entity"`
	Rows   []map[string]any `json:"rows"`
}

// SourcesHandler serves operations on stored sources. Each request is
// dispatched to the source type the source was created with.
type SourcesHandler struct {
	registry *datasource.Registry
	sources  SourceReader
	status   StatusReader
	logger   *zap.Logger
}

// NewSourcesHandler creates a sources handler.
func NewSourcesHandler(registry *datasource.Registry, sources SourceReader, status StatusReader, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{
		registry: registry,
		sources:  sources,
		status:   status,
		logger:   logger.Named("sources_handler"),
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sources/{id}", h.Get)
	mux.HandleFunc("PUT /api/sources/{id}", h.Update)
	mux.HandleFunc("POST /api/sources/{id}/relationships", h.DetectRelationships)
	mux.HandleFunc("POST /api/sources/{id}/statistics", h.ComputeStatistics)
	mux.HandleFunc("GET /api/sources/{id}/status", h.Status)
	mux.HandleFunc("GET /api/sources/{id}/preview", h.Preview)
}

// load resolves the path's source and the source type that owns it.
func (h *SourcesHandler) load(w http.ResponseWriter, r *http.Request) (uuid.UUID, *models.Source, *models.SchemaDocument, datasource.SourceType, bool) {
	id, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return uuid.Nil, nil, nil, nil, false
	}
	source, doc, err := h.sources.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "load source", err)
		return uuid.Nil, nil, nil, nil, false
	}
	st, err := h.registry.Lookup(source.SourceType)
	if err != nil {
		writeServiceError(w, h.logger, "look up source type", err)
		return uuid.Nil, nil, nil, nil, false
	}
	return id, source, doc, st, true
}

// Get handles GET /api/sources/{id}
// Secret connection parameters are masked.
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, source, doc, st, ok := h.load(w, r)
	if !ok {
		return
	}

	masked := *doc
	masked.Connection = maps.Clone(doc.Connection)
	for _, field := range st.ConnectionSchema().SecretFields() {
		if _, present := masked.Connection[field]; present {
			masked.Connection[field] = logging.RedactedText
		}
	}
	writeOK(w, h.logger, http.StatusOK, SourceResponse{Source: source, Document: &masked})
}

// Update handles PUT /api/sources/{id}
func (h *SourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, _, _, st, ok := h.load(w, r)
	if !ok {
		return
	}
	var req models.SourceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	source, err := st.UpdateSource(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, h.logger, "update source", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, source)
}

// DetectRelationships handles POST /api/sources/{id}/relationships?approach=...
// Responds 202 with the handle of the detection job.
func (h *SourcesHandler) DetectRelationships(w http.ResponseWriter, r *http.Request) {
	approach, err := models.ParseDetectApproach(r.URL.Query().Get("approach"))
	if err != nil {
		writeBadRequest(w, h.logger, "invalid_approach", err.Error())
		return
	}
	id, _, _, st, ok := h.load(w, r)
	if !ok {
		return
	}

	job, err := st.DetectRelationships(r.Context(), id, approach)
	if err != nil {
		writeServiceError(w, h.logger, "schedule relationship detection", err)
		return
	}
	writeOK(w, h.logger, http.StatusAccepted, JobResponse{Job: job})
}

// ComputeStatistics handles POST /api/sources/{id}/statistics
func (h *SourcesHandler) ComputeStatistics(w http.ResponseWriter, r *http.Request) {
	id, _, _, st, ok := h.load(w, r)
	if !ok {
		return
	}

	job, err := st.ComputeStatistics(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "schedule statistics", err)
		return
	}
	writeOK(w, h.logger, http.StatusAccepted, JobResponse{Job: job})
}

// Status handles GET /api/sources/{id}/status
func (h *SourcesHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}

	status, err := h.status.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get job status", err)
		return
	}
	if status == nil {
		status = models.JobStatus{}
	}
	writeOK(w, h.logger, http.StatusOK, status)
}

// Preview handles GET /api/sources/{id}/preview?entity=...&limit=...
func (h *SourcesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	if entity == "" {
		writeBadRequest(w, h.logger, "missing_entity", "entity parameter is required")
		return
	}
	limit, ok := queryInt(w, r, "limit", datasource.DefaultPreviewLimit, h.logger)
	if !ok {
		return
	}
	id, _, _, st, ok := h.load(w, r)
	if !ok {
		return
	}

	rows, err := st.PreviewData(r.Context(), id, entity, limit)
	if err != nil {
		writeServiceError(w, h.logger, "preview data", err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeOK(w, h.logger, http.StatusOK, PreviewResponse{Entity: entity, Rows: rows})
}
