// Package mongorepo implements the document-store rate repository variant:
// a single collection indexed for per-asset range-on-time queries.
package mongorepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ratefeed/internal/logging"
	"ratefeed/internal/ratepoint"
)

const (
	databaseName   = "rate_db"
	collectionName = "rates"
)

// Repository is the document-store rate repository. history projects away
// the internal _id and sorts ascending by time; insertMany performs a bulk
// insert with no deduplication, so duplicate (assetId, time) pairs are
// permitted.
type Repository struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *logging.Logger
}

// New connects to uri. Call Init before use to build the supporting index.
func New(ctx context.Context, uri string) (*Repository, error) {
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(3 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongorepo: connect: %w", err)
	}
	coll := client.Database(databaseName).Collection(collectionName)
	return &Repository{client: client, coll: coll, log: logging.Named("mongorepo")}, nil
}

// Init creates the compound index serving per-asset range-on-time queries.
func (r *Repository) Init(ctx context.Context) error {
	idx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "assetId", Value: 1},
			{Key: "time", Value: 1},
			{Key: "assetName", Value: 1},
			{Key: "value", Value: 1},
		},
	}
	if _, err := r.coll.Indexes().CreateOne(ctx, idx); err != nil {
		return fmt.Errorf("mongorepo: create index: %w", err)
	}
	return nil
}

// History returns points for assetID with time >= now-period, ascending by
// time, with the internal _id projected away.
func (r *Repository) History(ctx context.Context, assetID int, period time.Duration) ([]ratepoint.Point, error) {
	cutoff := time.Now().Add(-period).Unix()
	filter := bson.D{
		{Key: "assetId", Value: assetID},
		{Key: "time", Value: bson.D{{Key: "$gte", Value: cutoff}}},
	}
	projection := bson.D{
		{Key: "_id", Value: 0},
		{Key: "assetId", Value: 1},
		{Key: "time", Value: 1},
		{Key: "assetName", Value: 1},
		{Key: "value", Value: 1},
	}
	findOpts := options.Find().SetProjection(projection).SetSort(bson.D{{Key: "time", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongorepo: find: %w", err)
	}
	defer cursor.Close(ctx)

	points := make([]ratepoint.Point, 0)
	if err := cursor.All(ctx, &points); err != nil {
		return nil, fmt.Errorf("mongorepo: decode cursor: %w", err)
	}
	return points, nil
}

// InsertMany performs a bulk insert with no deduplication. An empty slice
// is a no-op.
func (r *Repository) InsertMany(ctx context.Context, points []ratepoint.Point) error {
	if len(points) == 0 {
		return nil
	}
	docs := make([]interface{}, len(points))
	for i, p := range points {
		docs[i] = p
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("mongorepo: insert many: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
