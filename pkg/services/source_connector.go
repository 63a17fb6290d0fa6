package services

import (
	"context"
	"fmt"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/crypto"
	"github.com/new-bakery/nga/pkg/models"
)

// SourceConnector opens source connections from stored schema documents.
// Secret connection parameters are sealed before they are stored and opened
// again just before a connection is made.
type SourceConnector struct {
	connections *datasource.ConnectionManager
	credentials *crypto.CredentialEncryptor
}

// NewSourceConnector creates a connector. A nil encryptor stores
// parameters as given.
func NewSourceConnector(connections *datasource.ConnectionManager, credentials *crypto.CredentialEncryptor) *SourceConnector {
	return &SourceConnector{connections: connections, credentials: credentials}
}

// Seal encrypts the secret fields of params for storage.
func (c *SourceConnector) Seal(schema datasource.ConnectionSchema, params map[string]any) (map[string]any, error) {
	if c.credentials == nil {
		return params, nil
	}
	return c.credentials.SealFields(params, schema.SecretFields())
}

// Params returns the usable connection parameters of a stored document.
func (c *SourceConnector) Params(doc *models.SchemaDocument) (map[string]any, error) {
	if c.credentials == nil {
		return doc.Connection, nil
	}
	params, err := c.credentials.OpenFields(doc.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: stored connection parameters of %s: %v", apperrors.ErrConfiguration, doc.SourceName, err)
	}
	return params, nil
}

// Open acquires a connection to the source a document describes.
func (c *SourceConnector) Open(ctx context.Context, backend datasource.Backend, sourceKey string, doc *models.SchemaDocument) (datasource.Conn, error) {
	params, err := c.Params(doc)
	if err != nil {
		return nil, err
	}
	return c.connections.Acquire(ctx, backend, sourceKey, params)
}
