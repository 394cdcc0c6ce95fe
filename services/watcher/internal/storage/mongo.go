package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

const (
	DefaultMongoURL = "mongodb://localhost:27017"
	mongoTimeout    = 5 * time.Second
)

// MongoSink stores readings as documents in one collection.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// OpenMongo connects, pings the server and creates the unique
// (device_name, timestamp) index.
func OpenMongo(ctx context.Context, url, database, collection string, logger *slog.Logger) (*MongoSink, error) {
	if url == "" {
		logger.Debug("MONGO_URL not set, using default")
		url = DefaultMongoURL
	}

	opts := options.Client().
		ApplyURI(url).
		SetServerSelectionTimeout(mongoTimeout).
		SetConnectTimeout(mongoTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, storageErr("connect mongo", err)
	}

	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, storageErr("ping mongo", err)
	}

	coll := client.Database(database).Collection(collection)
	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: models.FieldDeviceName, Value: 1},
			{Key: models.FieldTimestamp, Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, storageErr("create index", err)
	}

	logger.Info("mongo connection established", "database", database, "collection", collection)
	return &MongoSink{client: client, collection: coll, logger: logger}, nil
}

// SaveItem inserts one document. A duplicate key is not an error.
func (s *MongoSink) SaveItem(ctx context.Context, r models.Reading) error {
	_, err := s.collection.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Debug("reading already stored", "device", r.DeviceName, "timestamp", r.Timestamp)
		return nil
	}
	if err != nil {
		return storageErr("insert reading", err)
	}
	return nil
}

// SaveItems inserts unordered so every document is attempted. Per-document
// write errors are logged and absorbed.
func (s *MongoSink) SaveItems(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(readings))
	for _, r := range readings {
		docs = append(docs, r)
	}

	res, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		s.logger.Debug("inserted documents", "count", len(res.InsertedIDs))
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) > 0 {
		duplicates := 0
		for _, we := range bulkErr.WriteErrors {
			if we.Code == 11000 {
				duplicates++
				continue
			}
			s.logger.Warn("document rejected", "index", we.Index, "code", we.Code, "error", we.Message)
		}
		s.logger.Debug("partial insert",
			"attempted", len(readings),
			"failed", len(bulkErr.WriteErrors),
			"duplicates", duplicates)
		return nil
	}

	return storageErr("insert readings", err)
}

// LatestItemPerDevice sorts by orderKey descending and keeps the first
// document per groupKey.
func (s *MongoSink) LatestItemPerDevice(ctx context.Context, groupKey, orderKey string) ([]models.Reading, error) {
	if _, err := column(groupKey); err != nil {
		return nil, err
	}
	if _, err := column(orderKey); err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: orderKey, Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + groupKey},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storageErr("aggregate latest readings", err)
	}

	result := make([]models.Reading, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, storageErr(fmt.Sprintf("decode latest readings from %s", s.collection.Name()), err)
	}
	for i := range result {
		result[i].Timestamp = result[i].Timestamp.UTC()
	}
	return result, nil
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
