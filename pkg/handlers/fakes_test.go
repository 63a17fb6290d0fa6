package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/services/workqueue"
)

// fakeSourceType records calls and returns canned results.
type fakeSourceType struct {
	testErr     error
	entities    []models.Table
	entitiesErr error
	createErr   error
	rows        []map[string]any
	previewErr  error

	gotApproach models.DetectApproach
	gotEntity   string
	gotLimit    int
	gotRequest  *models.SourceRequest
}

var _ datasource.SourceType = (*fakeSourceType)(nil)

func (f *fakeSourceType) Describe() datasource.Info {
	return datasource.Info{Type: "fake", DisplayName: "Fake", Icon: "fake.svg"}
}

func (f *fakeSourceType) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"host":     {Required: true, Title: "Host"},
		"password": {Title: "Password", Secret: true},
	}
}

func (f *fakeSourceType) TestConnectivity(ctx context.Context, params map[string]any) error {
	return f.testErr
}

func (f *fakeSourceType) ListEntities(ctx context.Context, params map[string]any) ([]models.Table, error) {
	return f.entities, f.entitiesErr
}

func (f *fakeSourceType) CreateSource(ctx context.Context, req *models.SourceRequest) (*models.Source, error) {
	f.gotRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Source{ID: uuid.New(), SourceType: "fake", OwnerID: req.OwnerID}, nil
}

func (f *fakeSourceType) UpdateSource(ctx context.Context, id uuid.UUID, req *models.SourceRequest) (*models.Source, error) {
	f.gotRequest = req
	return &models.Source{ID: id, SourceType: "fake", IsPrivate: req.IsPrivate}, nil
}

func (f *fakeSourceType) DetectRelationships(ctx context.Context, id uuid.UUID, approach models.DetectApproach) (models.JobHandle, error) {
	f.gotApproach = approach
	return models.JobHandle{ID: "job-1", SourceID: id.String(), Operation: models.OperationDetectRelationships}, nil
}

func (f *fakeSourceType) ComputeStatistics(ctx context.Context, id uuid.UUID) (models.JobHandle, error) {
	return models.JobHandle{ID: "job-2", SourceID: id.String(), Operation: models.OperationStatistics}, nil
}

func (f *fakeSourceType) PreviewData(ctx context.Context, id uuid.UUID, entity string, limit int) ([]map[string]any, error) {
	f.gotEntity, f.gotLimit = entity, limit
	return f.rows, f.previewErr
}

func newRegistry(t *testing.T, st datasource.SourceType) *datasource.Registry {
	t.Helper()
	r := datasource.NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(st))
	return r
}

type fakeSources struct {
	source *models.Source
	doc    *models.SchemaDocument
}

func (f *fakeSources) Get(ctx context.Context, id uuid.UUID) (*models.Source, *models.SchemaDocument, error) {
	if f.source == nil || f.source.ID != id {
		return nil, nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	return f.source, f.doc, nil
}

type fakeStatus struct {
	status models.JobStatus
	err    error
}

func (f *fakeStatus) Get(ctx context.Context, sourceID uuid.UUID) (models.JobStatus, error) {
	return f.status, f.err
}

type fakeJobs map[string]workqueue.TaskSnapshot

func (f fakeJobs) Lookup(id string) (workqueue.TaskSnapshot, bool) {
	s, ok := f[id]
	return s, ok
}

func (f fakeJobs) Progress() workqueue.Progress {
	p := workqueue.Progress{Total: len(f)}
	for _, s := range f {
		if s.Status == workqueue.TaskStatusCompleted {
			p.Completed++
		}
	}
	return p
}
