package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
	sqlcheck "github.com/new-bakery/nga/pkg/sql"
)

// AdapterDeps are the shared services every source type adapter uses.
type AdapterDeps struct {
	Sources       *SourceService
	Relationships *RelationshipOrchestrator
	Statistics    *StatisticsService
	Connector     *SourceConnector
	Matcher       *RelationshipMatcher
	Settings      DetectionSettings
	Logger        *zap.Logger
}

// SourceTypeAdapter implements the full source type contract on top of a
// backend. Only the backend differs between source types.
type SourceTypeAdapter struct {
	backend datasource.Backend
	deps    AdapterDeps
	logger  *zap.Logger
}

var _ datasource.SourceType = (*SourceTypeAdapter)(nil)

// NewSourceTypeAdapter wraps backend.
func NewSourceTypeAdapter(backend datasource.Backend, deps AdapterDeps) *SourceTypeAdapter {
	return &SourceTypeAdapter{
		backend: backend,
		deps:    deps,
		logger:  deps.Logger.Named("source_type").With(zap.String("source_type", backend.Info().Type)),
	}
}

func (a *SourceTypeAdapter) Describe() datasource.Info {
	return a.backend.Info()
}

func (a *SourceTypeAdapter) ConnectionSchema() datasource.ConnectionSchema {
	return a.backend.ConnectionSchema()
}

// open connects with unsaved parameters. These connections are not cached.
func (a *SourceTypeAdapter) open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	resolved, err := a.backend.ConnectionSchema().Resolve(params)
	if err != nil {
		return nil, err
	}
	conn, err := a.backend.Open(ctx, resolved)
	if err != nil {
		a.logger.Warn("Failed to open connection", zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return conn, nil
}

func (a *SourceTypeAdapter) TestConnectivity(ctx context.Context, params map[string]any) error {
	conn, err := a.open(ctx, params)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}

// ListEntities lists tables. When the backend signed every column while
// listing, relationships are inferred right away with the combined approach.
func (a *SourceTypeAdapter) ListEntities(ctx context.Context, params map[string]any) ([]models.Table, error) {
	conn, err := a.open(ctx, params)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := conn.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	if allSigned(tables) {
		found := a.deps.Matcher.Detect(tables, models.NameAndSignatureBased,
			a.deps.Settings.SignatureThreshold, a.deps.Settings.NameTypeThreshold)
		added := MergeRelationships(tables, found)
		a.logger.Debug("Inferred relationships while listing", zap.Int("added", added))
	}
	return tables, nil
}

func allSigned(tables []models.Table) bool {
	columns := 0
	for _, t := range tables {
		for _, c := range t.Columns {
			if c.Signature == nil {
				return false
			}
			columns++
		}
	}
	return columns > 0
}

func (a *SourceTypeAdapter) CreateSource(ctx context.Context, req *models.SourceRequest) (*models.Source, error) {
	return a.deps.Sources.Create(ctx, a.backend, req)
}

func (a *SourceTypeAdapter) UpdateSource(ctx context.Context, id uuid.UUID, req *models.SourceRequest) (*models.Source, error) {
	return a.deps.Sources.Update(ctx, a.backend, id, req)
}

func (a *SourceTypeAdapter) DetectRelationships(ctx context.Context, id uuid.UUID, approach models.DetectApproach) (models.JobHandle, error) {
	return a.deps.Relationships.DetectRelationships(ctx, a.backend, id, approach)
}

func (a *SourceTypeAdapter) ComputeStatistics(ctx context.Context, id uuid.UUID) (models.JobHandle, error) {
	return a.deps.Statistics.ComputeStatistics(ctx, id)
}

// PreviewData reads the first rows of one entity of a stored source.
func (a *SourceTypeAdapter) PreviewData(ctx context.Context, id uuid.UUID, entity string, limit int) ([]map[string]any, error) {
	if r := sqlcheck.CheckIdentifierForInjection("table", entity); r != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrData, r)
	}
	switch {
	case limit <= 0:
		limit = datasource.DefaultPreviewLimit
	case limit > datasource.MaxPreviewLimit:
		limit = datasource.MaxPreviewLimit
	}

	_, doc, err := a.deps.Sources.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	table := doc.TableByName(entity)
	if table == nil {
		return nil, fmt.Errorf("entity %q of source %s: %w", entity, id, apperrors.ErrNotFound)
	}

	conn, err := a.deps.Connector.Open(ctx, a.backend, id.String(), doc)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	columns := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		columns[i] = c.ColumnName
	}
	rows, err := conn.ReadRows(ctx, table, columns, limit)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", entity, err)
	}
	for i := range rows {
		rows[i] = datasource.NormalizeRow(rows[i])
	}
	return rows, nil
}
