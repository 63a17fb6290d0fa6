//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/testhelpers"
)

func sampleDocument() *models.SchemaDocument {
	return &models.SchemaDocument{
		SourceName: "shop",
		SourceType: "postgres",
		Connection: map[string]any{"host": "db", "port": 5432},
		Tables: []models.Table{
			{
				TableName: "orders",
				Columns: []models.Column{
					{ColumnName: "id", Type: "integer"},
					{ColumnName: "customer_id", Type: "integer", Signature: &models.SignatureWire{
						Type: models.SignatureWireType, NumPerm: 1, HashValues: "AAAAAAAAAAA=",
					}},
				},
				PrimaryKeys: []string{"id"},
				Shape:       []int64{10, 2},
			},
		},
	}
}

func TestSchemaDocumentRepository_CreateGetReplace(t *testing.T) {
	repo := NewSchemaDocumentRepository(testhelpers.GetTestMongo(t).Collection(t))
	ctx := context.Background()

	doc := sampleDocument()
	id, err := repo.Create(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "shop", got.SourceName)
	require.Len(t, got.Tables, 1)
	assert.Equal(t, []int64{10, 2}, got.Tables[0].Shape)
	require.NotNil(t, got.Tables[0].Columns[1].Signature)
	assert.Equal(t, "AAAAAAAAAAA=", got.Tables[0].Columns[1].Signature.HashValues)

	got.Tables[0].ForeignKeys = []models.Relationship{{
		ID:            models.RelationshipID("orders", "customer_id", "customers", "id"),
		PrimaryTable:  "orders",
		PrimaryColumn: "customer_id",
		ForeignTable:  "customers",
		ForeignColumn: "id",
		By:            string(models.SignatureBased),
	}}
	require.NoError(t, repo.Replace(ctx, got))

	again, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, again.Tables[0].ForeignKeys, 1)
	assert.Equal(t, "signature_based", again.Tables[0].ForeignKeys[0].By)
}

func TestSchemaDocumentRepository_NotFound(t *testing.T) {
	repo := NewSchemaDocumentRepository(testhelpers.GetTestMongo(t).Collection(t))
	ctx := context.Background()

	_, err := repo.Get(ctx, "65f000000000000000000000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	doc := sampleDocument()
	doc.ID = "65f000000000000000000000"
	assert.ErrorIs(t, repo.Replace(ctx, doc), apperrors.ErrNotFound)
}
