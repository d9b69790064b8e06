package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"payment-reconciliation-engine/pkg/errors"
)

// MongoSink stores events in a MongoDB collection
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoSink connects to uri and writes to database.collection
func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.NetworkError(errors.CodeConnectionFailed, "mongodb", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.NetworkError(errors.CodeConnectionFailed, "mongodb", err)
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    5 * time.Second,
	}, nil
}

// EnsureIndexes creates the lookup indexes used by downstream alerting
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "subject", Value: 1}}},
	})
	if err != nil {
		return errors.StoreError("audit_indexes", err)
	}
	return nil
}

// Publish inserts the event
func (s *MongoSink) Publish(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.collection.InsertOne(ctx, bson.M{
		"event_id":    event.ID,
		"type":        event.Type,
		"subject":     event.Subject,
		"payload":     event.Payload,
		"occurred_at": event.OccurredAt,
	})
	if err != nil {
		return errors.StoreError("audit_publish", err)
	}
	return nil
}

// Close disconnects the client
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
