// Package repository defines the pluggable rate-point store: persistence
// with bounded retention and history reads over a time window. Two
// interchangeable drivers live in the mongorepo and redisrepo
// subpackages; callers depend only on this interface.
package repository

import (
	"context"
	"time"

	"ratefeed/internal/ratepoint"
)

// Repository is the capability set a rate store must provide. insertMany
// on an empty slice is a no-op; a storage error is the caller's (a DB
// worker-pool task's) to log and drop — there is no retry at this layer.
type Repository interface {
	// Init prepares the store for use (index creation, connection checks).
	Init(ctx context.Context) error

	// History returns the points for assetId with time >= now-period,
	// ascending by time. An empty result is not an error.
	History(ctx context.Context, assetID int, period time.Duration) ([]ratepoint.Point, error)

	// InsertMany persists points. A nil or empty slice is a no-op.
	InsertMany(ctx context.Context, points []ratepoint.Point) error

	// Close releases the underlying client.
	Close(ctx context.Context) error
}
