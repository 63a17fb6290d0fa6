package models

import (
	"time"

	"github.com/google/uuid"
)

// Source is the record-store row describing one registered source.
// The schema document itself lives in the document store under DocID.
type Source struct {
	ID         uuid.UUID `json:"id"`
	SourceType string    `json:"source_type"`
	OwnerID    string    `json:"owner_id"`
	IsPrivate  bool      `json:"is_private"`
	DocID      string    `json:"doc_id"`
	Status     JobStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SourceRequest carries the fields supplied when a source is created or updated.
type SourceRequest struct {
	SourceName        string         `json:"source_name"`
	Description       string         `json:"description"`
	OwnerID           string         `json:"owner_id"`
	IsPrivate         bool           `json:"is_private"`
	ConnectionInfo    map[string]any `json:"connection_info"`
	Entities          []Table        `json:"entities"`
	AdditionalDetails map[string]any `json:"additional_details,omitempty"`
}
