package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies. Entity lists of wide schemas are large.
const maxBodyBytes = 32 << 20

// ParseSourceID extracts and validates the source ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseSourceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeBadRequest(w, logger, "invalid_source_id", "Invalid source ID format")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeBadRequest(w, logger, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

// queryInt reads an optional integer query parameter. A present but
// malformed value writes a 400.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, logger, "invalid_"+name, "Invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}
