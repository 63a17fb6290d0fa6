package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
)

type sourcesFixture struct {
	id     uuid.UUID
	st     *fakeSourceType
	status *fakeStatus
	mux    *http.ServeMux
}

func newSourcesFixture(t *testing.T) *sourcesFixture {
	t.Helper()
	id := uuid.New()
	st := &fakeSourceType{}
	sources := &fakeSources{
		source: &models.Source{ID: id, SourceType: "fake", DocID: "doc-1"},
		doc: &models.SchemaDocument{
			SourceName: "warehouse",
			SourceType: "fake",
			Tables:     []models.Table{{TableName: "orders"}},
			Connection: map[string]any{"host": "db", "password": "hunter2"},
		},
	}
	status := &fakeStatus{}

	mux := http.NewServeMux()
	NewSourcesHandler(newRegistry(t, st), sources, status, zap.NewNop()).RegisterRoutes(mux)
	return &sourcesFixture{id: id, st: st, status: status, mux: mux}
}

func (f *sourcesFixture) serve(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *sourcesFixture) path(suffix string) string {
	return "/api/sources/" + f.id.String() + suffix
}

func TestSources_GetMasksSecrets(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodGet, f.path(""), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	var resp SourceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, logging.RedactedText, resp.Document.Connection["password"])
	assert.Equal(t, "db", resp.Document.Connection["host"])
	assert.Equal(t, "warehouse", resp.Document.SourceName)
}

func TestSources_InvalidAndUnknownIDs(t *testing.T) {
	f := newSourcesFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.serve(http.MethodGet, "/api/sources/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodGet, "/api/sources/"+uuid.NewString(), nil).Code)
}

func TestSources_Update(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodPut, f.path(""), models.SourceRequest{SourceName: "warehouse", IsPrivate: true})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.st.gotRequest)
	assert.True(t, f.st.gotRequest.IsPrivate)
}

func TestSources_DetectRelationships(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodPost, f.path("/relationships?approach=signature_based"), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.SignatureBased, f.st.gotApproach)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.Job.ID)
	assert.Equal(t, models.OperationDetectRelationships, resp.Job.Operation)
}

func TestSources_DetectRelationshipsDefaultsToCombined(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodPost, f.path("/relationships"), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.NameAndSignatureBased, f.st.gotApproach)
}

func TestSources_DetectRelationshipsUnknownApproach(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodPost, f.path("/relationships?approach=psychic"), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_approach")
}

func TestSources_ComputeStatistics(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodPost, f.path("/statistics"), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operation":"statistics"`)
}

func TestSources_Status(t *testing.T) {
	f := newSourcesFixture(t)
	f.status.status = models.JobStatus{
		models.OperationCalculateSignatures: {State: models.JobStateDone},
		models.OperationDetectRelationships: {State: models.JobStateFailed, Error: "boom"},
	}

	rec := f.serve(http.MethodGet, f.path("/status"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"calculate_signatures": {"state": "done"},
		"detect_relationships": {"state": "failed", "error": "boom"}
	}`, rec.Body.String())
}

func TestSources_StatusEmptyAndMissing(t *testing.T) {
	f := newSourcesFixture(t)

	rec := f.serve(http.MethodGet, f.path("/status"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	f.status.err = fmt.Errorf("source: %w", apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodGet, f.path("/status"), nil).Code)
}

func TestSources_Preview(t *testing.T) {
	f := newSourcesFixture(t)
	f.st.rows = []map[string]any{{"id": 1}}

	rec := f.serve(http.MethodGet, f.path("/preview?entity=orders&limit=5"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "orders", f.st.gotEntity)
	assert.Equal(t, 5, f.st.gotLimit)
	assert.JSONEq(t, `{"entity":"orders","rows":[{"id":1}]}`, rec.Body.String())
}

func TestSources_PreviewValidation(t *testing.T) {
	f := newSourcesFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.serve(http.MethodGet, f.path("/preview"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.serve(http.MethodGet, f.path("/preview?entity=orders&limit=ten"), nil).Code)

	rec := f.serve(http.MethodGet, f.path("/preview?entity=orders"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, f.st.gotLimit)
	assert.JSONEq(t, `{"entity":"orders","rows":[]}`, rec.Body.String())

	f.st.previewErr = fmt.Errorf("entity %q: %w", "nope", apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodGet, f.path("/preview?entity=nope"), nil).Code)
}
