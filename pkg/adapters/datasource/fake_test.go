package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/new-bakery/nga/pkg/models"
)

type fakeBackend struct {
	name    string
	openErr error
	pingErr error
	opens   atomic.Int32
}

func (b *fakeBackend) Info() Info { return Info{Type: b.name, DisplayName: b.name} }

func (b *fakeBackend) ConnectionSchema() ConnectionSchema {
	return ConnectionSchema{"host": {Required: true, Title: "Host"}}
}

func (b *fakeBackend) Open(ctx context.Context, params map[string]any) (Conn, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opens.Add(1)
	return &fakeConn{backend: b}, nil
}

type fakeConn struct {
	backend *fakeBackend
	mu      sync.Mutex
	closed  bool
}

func (c *fakeConn) Ping(ctx context.Context) error { return c.backend.pingErr }

func (c *fakeConn) ListEntities(ctx context.Context) ([]models.Table, error) { return nil, nil }

func (c *fakeConn) CountRows(ctx context.Context, table *models.Table) (int64, error) {
	if c.isClosed() {
		return 0, errors.New("sql: database is closed")
	}
	return 0, nil
}

func (c *fakeConn) ReadRows(ctx context.Context, table *models.Table, columns []string, limit int) ([]map[string]any, error) {
	return nil, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// completeSourceType satisfies SourceType.
type completeSourceType struct {
	name string
}

func (s *completeSourceType) Describe() Info                     { return Info{Type: s.name} }
func (s *completeSourceType) ConnectionSchema() ConnectionSchema { return ConnectionSchema{} }
func (s *completeSourceType) TestConnectivity(ctx context.Context, params map[string]any) error {
	return nil
}
func (s *completeSourceType) ListEntities(ctx context.Context, params map[string]any) ([]models.Table, error) {
	return nil, nil
}
func (s *completeSourceType) CreateSource(ctx context.Context, req *models.SourceRequest) (*models.Source, error) {
	return nil, nil
}
func (s *completeSourceType) UpdateSource(ctx context.Context, id uuid.UUID, req *models.SourceRequest) (*models.Source, error) {
	return nil, nil
}
func (s *completeSourceType) DetectRelationships(ctx context.Context, id uuid.UUID, approach models.DetectApproach) (models.JobHandle, error) {
	return models.JobHandle{}, nil
}
func (s *completeSourceType) ComputeStatistics(ctx context.Context, id uuid.UUID) (models.JobHandle, error) {
	return models.JobHandle{}, nil
}
func (s *completeSourceType) PreviewData(ctx context.Context, id uuid.UUID, entity string, limit int) ([]map[string]any, error) {
	return nil, nil
}

// previewlessSourceType has every capability except PreviewData.
type previewlessSourceType struct{}

func (s *previewlessSourceType) Describe() Info                     { return Info{Type: "partial"} }
func (s *previewlessSourceType) ConnectionSchema() ConnectionSchema { return ConnectionSchema{} }
func (s *previewlessSourceType) TestConnectivity(ctx context.Context, params map[string]any) error {
	return nil
}
func (s *previewlessSourceType) ListEntities(ctx context.Context, params map[string]any) ([]models.Table, error) {
	return nil, nil
}
func (s *previewlessSourceType) CreateSource(ctx context.Context, req *models.SourceRequest) (*models.Source, error) {
	return nil, nil
}
func (s *previewlessSourceType) UpdateSource(ctx context.Context, id uuid.UUID, req *models.SourceRequest) (*models.Source, error) {
	return nil, nil
}
func (s *previewlessSourceType) DetectRelationships(ctx context.Context, id uuid.UUID, approach models.DetectApproach) (models.JobHandle, error) {
	return models.JobHandle{}, nil
}
func (s *previewlessSourceType) ComputeStatistics(ctx context.Context, id uuid.UUID) (models.JobHandle, error) {
	return models.JobHandle{}, nil
}
