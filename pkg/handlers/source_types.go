package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
)

// SourceTypeResponse describes one registered source type.
type SourceTypeResponse struct {
	datasource.Info
	ConnectionSchema datasource.ConnectionSchema `json:"connection_schema"`
}

// ListSourceTypesResponse wraps array for frontend compatibility.
type ListSourceTypesResponse struct {
	SourceTypes []SourceTypeResponse `json:"source_types"`
}

// ConnectionRequest carries unsaved connection parameters.
type ConnectionRequest struct {
	ConnectionInfo map[string]any `json:"connection_info"`
}

// TestConnectionResponse for connection test result.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListEntitiesResponse wraps the tables found with unsaved parameters.
type ListEntitiesResponse struct {
	Entities []models.Table `json:"entities"`
}

// SourceTypesHandler serves the source type catalog and the operations
// that run before a source exists.
type SourceTypesHandler struct {
	registry *datasource.Registry
	logger   *zap.Logger
}

// NewSourceTypesHandler creates a source types handler.
func NewSourceTypesHandler(registry *datasource.Registry, logger *zap.Logger) *SourceTypesHandler {
	return &SourceTypesHandler{registry: registry, logger: logger.Named("source_types_handler")}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *SourceTypesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/source-types", h.List)
	mux.HandleFunc("GET /api/source-types/{type}", h.Get)
	mux.HandleFunc("POST /api/source-types/{type}/test", h.TestConnection)
	mux.HandleFunc("POST /api/source-types/{type}/entities", h.ListEntities)
	mux.HandleFunc("POST /api/source-types/{type}/sources", h.CreateSource)
}

func describe(st datasource.SourceType) SourceTypeResponse {
	return SourceTypeResponse{Info: st.Describe(), ConnectionSchema: st.ConnectionSchema()}
}

// List handles GET /api/source-types
func (h *SourceTypesHandler) List(w http.ResponseWriter, r *http.Request) {
	types := h.registry.List()
	response := ListSourceTypesResponse{SourceTypes: make([]SourceTypeResponse, len(types))}
	for i, st := range types {
		response.SourceTypes[i] = describe(st)
	}
	writeOK(w, h.logger, http.StatusOK, response)
}

func (h *SourceTypesHandler) lookup(w http.ResponseWriter, r *http.Request) (datasource.SourceType, bool) {
	st, err := h.registry.Lookup(r.PathValue("type"))
	if err != nil {
		writeServiceError(w, h.logger, "look up source type", err)
		return nil, false
	}
	return st, true
}

// Get handles GET /api/source-types/{type}
func (h *SourceTypesHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeOK(w, h.logger, http.StatusOK, describe(st))
}

// TestConnection handles POST /api/source-types/{type}/test
// A failed connection attempt is reported in the body, not as an HTTP error.
func (h *SourceTypesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req ConnectionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if err := st.TestConnectivity(r.Context(), req.ConnectionInfo); err != nil {
		if status, _ := errorStatus(err); status == http.StatusBadGateway {
			writeOK(w, h.logger, http.StatusOK, TestConnectionResponse{
				Success: false,
				Message: logging.SanitizeError(err),
			})
			return
		}
		writeServiceError(w, h.logger, "test connection", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, TestConnectionResponse{
		Success: true,
		Message: "Connection successful",
	})
}

// ListEntities handles POST /api/source-types/{type}/entities
func (h *SourceTypesHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req ConnectionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	tables, err := st.ListEntities(r.Context(), req.ConnectionInfo)
	if err != nil {
		writeServiceError(w, h.logger, "list entities", err)
		return
	}
	if tables == nil {
		tables = []models.Table{}
	}
	writeOK(w, h.logger, http.StatusOK, ListEntitiesResponse{Entities: tables})
}

// CreateSource handles POST /api/source-types/{type}/sources
func (h *SourceTypesHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req models.SourceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	source, err := st.CreateSource(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, "create source", err)
		return
	}
	writeOK(w, h.logger, http.StatusCreated, source)
}
