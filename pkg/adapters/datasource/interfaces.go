package datasource

import (
	"context"

	"github.com/google/uuid"

	"github.com/new-bakery/nga/pkg/models"
)

const (
	// DefaultPreviewLimit is the number of rows returned when no limit is given.
	DefaultPreviewLimit = 50
	// MaxPreviewLimit caps preview reads.
	MaxPreviewLimit = 1000
)

// Info describes a registered source type for clients.
type Info struct {
	Type        string `json:"type"`         // "postgres", "sqlserver", "tabularfile"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Dialect     string `json:"dialect,omitempty"` // SQL dialect recorded on schema documents
}

// SourceType is the full capability set a source type must provide before
// the registry accepts it.
type SourceType interface {
	// Describe returns the type's descriptive metadata.
	Describe() Info

	// ConnectionSchema returns the connection parameters the type accepts.
	ConnectionSchema() ConnectionSchema

	// TestConnectivity opens and verifies a connection with the given parameters.
	TestConnectivity(ctx context.Context, params map[string]any) error

	// ListEntities enumerates the tables reachable with the given parameters.
	ListEntities(ctx context.Context, params map[string]any) ([]models.Table, error)

	// CreateSource persists a new schema document and source record.
	CreateSource(ctx context.Context, req *models.SourceRequest) (*models.Source, error)

	// UpdateSource replaces the schema document of an existing source.
	UpdateSource(ctx context.Context, id uuid.UUID, req *models.SourceRequest) (*models.Source, error)

	// DetectRelationships starts background relationship detection and returns
	// immediately with a job handle.
	DetectRelationships(ctx context.Context, id uuid.UUID, approach models.DetectApproach) (models.JobHandle, error)

	// ComputeStatistics starts background statistics computation.
	ComputeStatistics(ctx context.Context, id uuid.UUID) (models.JobHandle, error)

	// PreviewData reads up to limit rows of one entity.
	PreviewData(ctx context.Context, id uuid.UUID, entity string, limit int) ([]map[string]any, error)
}

// Backend is the system-specific half of a source type: it knows how to
// reach one kind of source system. Everything above the connection is shared.
type Backend interface {
	Info() Info
	ConnectionSchema() ConnectionSchema
	Open(ctx context.Context, params map[string]any) (Conn, error)
}

// Conn is an open connection to a source system.
type Conn interface {
	// Ping verifies the source is reachable with the configured credentials.
	Ping(ctx context.Context) error

	// ListEntities returns tables with columns, primary keys and declared
	// foreign keys. Backends that can cheaply compute signatures while
	// listing set them on every column.
	ListEntities(ctx context.Context) ([]models.Table, error)

	// CountRows returns the number of rows in the table.
	CountRows(ctx context.Context, table *models.Table) (int64, error)

	// ReadRows returns up to limit rows of the named columns in a fixed
	// order; limit <= 0 reads all rows. Repeated reads of an unchanged table
	// return the same rows.
	ReadRows(ctx context.Context, table *models.Table, columns []string, limit int) ([]map[string]any, error)

	Close() error
}

// EntityValidator is implemented by backends that verify submitted entities
// against the source system before a source is created or updated.
type EntityValidator interface {
	ValidateEntities(ctx context.Context, params map[string]any, tables []models.Table) error
}
