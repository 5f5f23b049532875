package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ResultIndexes lists the indexes of the results collection
func ResultIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetName("idx_request_id"),
		},
		{
			Keys: bson.D{
				{Key: "job_id", Value: 1},
				{Key: "executed_at", Value: -1},
			},
			Options: options.Index().SetName("idx_job_id_executed_at"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "executed_at", Value: -1},
			},
			Options: options.Index().SetName("idx_status_executed_at"),
		},
		{
			Keys:    bson.D{{Key: "expiry_ts", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_expiry_ts"),
		},
	}
}

// CreateIndexes creates the results collection indexes
func CreateIndexes(ctx context.Context, collection *mongo.Collection) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctxTimeout, ResultIndexes()); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", collection.Name(), err)
	}
	return nil
}
