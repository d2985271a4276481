package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps execution records in MongoDB.
type MongoStore struct {
	client     *mongo.Client
	executions *mongo.Collection
}

// NewMongoStore connects to MongoDB and prepares the executions collection.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		executions: client.Database(dbName).Collection("executions"),
	}

	_, err = store.executions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "pipeline", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create executions indexes: %w", err)
	}

	return store, nil
}

// Record inserts e.
func (s *MongoStore) Record(ctx context.Context, e *Execution) error {
	_, err := s.executions.InsertOne(ctx, e)
	return err
}

// List returns matching records newest first.
func (s *MongoStore) List(ctx context.Context, f Filter) ([]Execution, error) {
	query := bson.M{}
	if f.Pipeline != "" {
		query["pipeline"] = f.Pipeline
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(f.limit()))

	cursor, err := s.executions.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []Execution
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
