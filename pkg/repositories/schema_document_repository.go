package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
)

// SchemaDocumentRepository defines the interface for schema document access.
type SchemaDocumentRepository interface {
	// Create stores a new document and returns its id.
	Create(ctx context.Context, doc *models.SchemaDocument) (string, error)

	// Get retrieves a document. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.SchemaDocument, error)

	// Replace overwrites the whole document identified by doc.ID in one
	// operation.
	Replace(ctx context.Context, doc *models.SchemaDocument) error
}

// schemaDocumentRepository implements SchemaDocumentRepository on MongoDB.
type schemaDocumentRepository struct {
	collection *mongo.Collection
}

// NewSchemaDocumentRepository creates a repository over the given collection.
func NewSchemaDocumentRepository(collection *mongo.Collection) SchemaDocumentRepository {
	return &schemaDocumentRepository{collection: collection}
}

// Create inserts a document.
func (r *schemaDocumentRepository) Create(ctx context.Context, doc *models.SchemaDocument) (string, error) {
	oid := primitive.NewObjectID()
	stored, err := withID(oid, doc)
	if err != nil {
		return "", err
	}
	if _, err := r.collection.InsertOne(ctx, stored); err != nil {
		return "", fmt.Errorf("failed to create schema document: %w", err)
	}
	doc.ID = oid.Hex()
	return doc.ID, nil
}

// Get retrieves a document by id.
func (r *schemaDocumentRepository) Get(ctx context.Context, id string) (*models.SchemaDocument, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	var doc models.SchemaDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("schema document %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schema document: %w", err)
	}
	doc.ID = id
	return &doc, nil
}

// Replace overwrites a document.
func (r *schemaDocumentRepository) Replace(ctx context.Context, doc *models.SchemaDocument) error {
	oid, err := parseObjectID(doc.ID)
	if err != nil {
		return err
	}

	stored, err := withID(oid, doc)
	if err != nil {
		return err
	}

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": oid}, stored)
	if err != nil {
		return fmt.Errorf("failed to replace schema document: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("schema document %s: %w", doc.ID, apperrors.ErrNotFound)
	}
	return nil
}

// withID encodes doc with its ObjectID as _id.
func withID(oid primitive.ObjectID, doc *models.SchemaDocument) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to encode schema document: %w", err)
	}
	m["_id"] = oid
	return m, nil
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("schema document %q: %w", id, apperrors.ErrNotFound)
	}
	return oid, nil
}
