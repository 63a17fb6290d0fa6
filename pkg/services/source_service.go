package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/repositories"
	sqlcheck "github.com/new-bakery/nga/pkg/sql"
)

// SourceService creates and updates sources: one schema document in the
// document store and one record in the record store per source.
type SourceService struct {
	sources    repositories.SourceRepository
	documents  repositories.SchemaDocumentRepository
	connector  *SourceConnector
	statistics *StatisticsService
	logger     *zap.Logger
}

// NewSourceService creates a source service.
func NewSourceService(
	sources repositories.SourceRepository,
	documents repositories.SchemaDocumentRepository,
	connector *SourceConnector,
	statistics *StatisticsService,
	logger *zap.Logger,
) *SourceService {
	return &SourceService{
		sources:    sources,
		documents:  documents,
		connector:  connector,
		statistics: statistics,
		logger:     logger.Named("sources"),
	}
}

// Get returns a source record and its schema document.
func (s *SourceService) Get(ctx context.Context, id uuid.UUID) (*models.Source, *models.SchemaDocument, error) {
	source, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.documents.Get(ctx, source.DocID)
	if err != nil {
		return nil, nil, err
	}
	return source, doc, nil
}

// Create validates the request, stores the document and the record, and
// schedules statistics.
func (s *SourceService) Create(ctx context.Context, backend datasource.Backend, req *models.SourceRequest) (*models.Source, error) {
	doc, err := s.buildDocument(ctx, backend, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	source := &models.Source{
		SourceType: backend.Info().Type,
		OwnerID:    req.OwnerID,
		IsPrivate:  req.IsPrivate,
		DocID:      doc.ID,
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info("Source created",
		zap.String("source_id", source.ID.String()),
		zap.String("source_type", source.SourceType),
		zap.Int("tables", len(doc.Tables)))

	s.scheduleStatistics(ctx, source.ID)
	return source, nil
}

// Update replaces the schema document of an existing source of the same
// type and updates its visibility.
func (s *SourceService) Update(ctx context.Context, backend datasource.Backend, id uuid.UUID, req *models.SourceRequest) (*models.Source, error) {
	source, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if source.SourceType != backend.Info().Type {
		return nil, fmt.Errorf("%w: source %s is of type %q, not %q",
			apperrors.ErrConfiguration, id, source.SourceType, backend.Info().Type)
	}

	doc, err := s.buildDocument(ctx, backend, req)
	if err != nil {
		return nil, err
	}
	doc.ID = source.DocID
	if err := s.documents.Replace(ctx, doc); err != nil {
		return nil, err
	}

	source.IsPrivate = req.IsPrivate
	if req.OwnerID != "" {
		source.OwnerID = req.OwnerID
	}
	if err := s.sources.Update(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info("Source updated",
		zap.String("source_id", source.ID.String()),
		zap.Int("tables", len(doc.Tables)))

	s.scheduleStatistics(ctx, source.ID)
	return source, nil
}

func (s *SourceService) scheduleStatistics(ctx context.Context, id uuid.UUID) {
	if s.statistics == nil {
		return
	}
	if _, err := s.statistics.ComputeStatistics(ctx, id); err != nil {
		s.logger.Warn("Failed to schedule statistics",
			zap.String("source_id", id.String()),
			zap.Error(err))
	}
}

// buildDocument validates connection parameters and entities and returns
// the document to store, graph included.
func (s *SourceService) buildDocument(ctx context.Context, backend datasource.Backend, req *models.SourceRequest) (*models.SchemaDocument, error) {
	if strings.TrimSpace(req.SourceName) == "" {
		return nil, fmt.Errorf("%w: source_name is required", apperrors.ErrData)
	}

	schema := backend.ConnectionSchema()
	params, err := schema.Resolve(req.ConnectionInfo)
	if err != nil {
		return nil, err
	}

	tables, err := PrepareEntities(req.Entities)
	if err != nil {
		return nil, err
	}

	if v, ok := backend.(datasource.EntityValidator); ok {
		if err := v.ValidateEntities(ctx, params, tables); err != nil {
			return nil, err
		}
	}

	sealed, err := s.connector.Seal(schema, params)
	if err != nil {
		return nil, fmt.Errorf("seal connection parameters: %w", err)
	}

	info := backend.Info()
	return &models.SchemaDocument{
		SourceName:        req.SourceName,
		Description:       req.Description,
		SourceType:        info.Type,
		Dialect:           info.Dialect,
		Tables:            tables,
		Connection:        sealed,
		AdditionalDetails: req.AdditionalDetails,
		Graph:             BuildTableGraph(tables).NodeLink(),
	}, nil
}

// PrepareEntities checks submitted entities and returns a copy with
// foreign keys to tables outside the list removed. Table names must be
// present, unique and pass identifier screening.
func PrepareEntities(entities []models.Table) ([]models.Table, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: at least one entity is required", apperrors.ErrData)
	}

	names := make(map[string]bool, len(entities))
	for _, t := range entities {
		name := strings.TrimSpace(t.TableName)
		if name == "" {
			return nil, fmt.Errorf("%w: entity without table_name", apperrors.ErrData)
		}
		if names[name] {
			return nil, fmt.Errorf("%w: duplicate table_name %q", apperrors.ErrData, name)
		}
		names[name] = true
	}

	if findings := sqlcheck.CheckEntities(entities); len(findings) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrData, findings[0])
	}

	out := make([]models.Table, len(entities))
	for i, t := range entities {
		t.Columns = append([]models.Column(nil), t.Columns...)
		var fks []models.Relationship
		for _, fk := range t.ForeignKeys {
			if !names[fk.PrimaryTable] || !names[fk.ForeignTable] {
				continue
			}
			if fk.ID == "" {
				fk.ID = models.RelationshipID(fk.PrimaryTable, fk.PrimaryColumn, fk.ForeignTable, fk.ForeignColumn)
			}
			fks = append(fks, fk)
		}
		t.ForeignKeys = fks
		out[i] = t
	}
	return out, nil
}
