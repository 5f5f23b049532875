package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionResults holds one document per archived result
const CollectionResults = "tls_results"

// MongoDB represents a MongoDB connection
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	logger   *slog.Logger
}

// Connect establishes a connection to MongoDB. The initial ping is retried
// with exponential backoff until timeout elapses or ctx is cancelled.
func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *slog.Logger) (*MongoDB, error) {
	logger.InfoContext(ctx, "Connecting to MongoDB", "database", database)

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(timeout).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(timeout).
		SetRetryWrites(true).
		SetCompressors([]string{"snappy"})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = timeout

	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return client.Ping(pingCtx, nil)
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.InfoContext(ctx, "Successfully connected to MongoDB")

	return &MongoDB{
		Client:   client,
		Database: client.Database(database),
		logger:   logger,
	}, nil
}

// Disconnect closes the MongoDB connection
func (m *MongoDB) Disconnect(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Disconnecting from MongoDB")

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(disconnectCtx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	m.logger.InfoContext(ctx, "Successfully disconnected from MongoDB")
	return nil
}

// GetCollection returns a collection by name
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}
