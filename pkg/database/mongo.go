package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/new-bakery/nga/pkg/config"
)

// NewMongoClient connects to the document store and verifies the connection.
// Nested documents decode as bson.M so schema documents read back as plain maps.
func NewMongoClient(ctx context.Context, cfg *config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(config.ResolveURLForDocker(cfg.URI)).
		SetServerSelectionTimeout(10 * time.Second).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}
