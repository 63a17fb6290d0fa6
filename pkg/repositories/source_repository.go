package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/database"
	"github.com/new-bakery/nga/pkg/models"
)

// SourceRepository defines the interface for source record access.
type SourceRepository interface {
	// Create inserts a new source with an empty status. Sets ID and timestamps.
	Create(ctx context.Context, source *models.Source) error

	// GetByID retrieves a source. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error)

	// Update writes visibility, owner and document id.
	Update(ctx context.Context, source *models.Source) error

	// MergeStatus sets one operation's status, preserving every other key.
	// The merge is a single statement.
	MergeStatus(ctx context.Context, id uuid.UUID, op models.Operation, status models.OperationStatus) error

	// GetStatus returns the source's status record.
	GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
}

// sourceRepository implements SourceRepository using PostgreSQL.
type sourceRepository struct {
	db *database.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *database.DB) SourceRepository {
	return &sourceRepository{db: db}
}

// Create inserts a new source.
func (r *sourceRepository) Create(ctx context.Context, source *models.Source) error {
	now := time.Now().UTC()
	source.CreatedAt = now
	source.UpdatedAt = now
	if source.Status == nil {
		source.Status = models.JobStatus{}
	}

	status, err := json.Marshal(source.Status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	query := `
		INSERT INTO sources (source_type, owner_id, is_private, doc_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		source.SourceType,
		source.OwnerID,
		source.IsPrivate,
		source.DocID,
		status,
		source.CreatedAt,
		source.UpdatedAt,
	).Scan(&source.ID)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

// GetByID retrieves a source by ID.
func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	query := `
		SELECT id, source_type, owner_id, is_private, doc_id, status, created_at, updated_at
		FROM sources
		WHERE id = $1`

	var s models.Source
	var status []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.SourceType,
		&s.OwnerID,
		&s.IsPrivate,
		&s.DocID,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	if err := json.Unmarshal(status, &s.Status); err != nil {
		return nil, fmt.Errorf("failed to decode status of source %s: %w", id, err)
	}

	return &s, nil
}

// Update modifies an existing source.
func (r *sourceRepository) Update(ctx context.Context, source *models.Source) error {
	source.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sources
		SET owner_id = $2, is_private = $3, doc_id = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		source.ID,
		source.OwnerID,
		source.IsPrivate,
		source.DocID,
		source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", source.ID, apperrors.ErrNotFound)
	}

	return nil
}

// MergeStatus sets status[op] with jsonb concatenation, leaving other keys intact.
func (r *sourceRepository) MergeStatus(ctx context.Context, id uuid.UUID, op models.Operation, status models.OperationStatus) error {
	value, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	query := `
		UPDATE sources
		SET status = COALESCE(status, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, string(op), value)
	if err != nil {
		return fmt.Errorf("failed to merge status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

// GetStatus returns the status record of a source.
func (r *sourceRepository) GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT status FROM sources WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	status := models.JobStatus{}
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status of source %s: %w", id, err)
	}
	return status, nil
}
