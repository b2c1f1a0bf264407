// Package redisrepo implements the list-per-key rate repository variant:
// each asset's points live in an insertion-ordered Redis list, trimmed by
// count on every insert.
package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ratefeed/internal/logging"
	"ratefeed/internal/ratepoint"
)

// Repository is the list-per-key rate repository. Retention is enforced by
// trimming each key to the last retentionCount entries on every insert;
// history additionally filters client-side by time, since LTRIM bounds by
// count, not by time. Configuring retentionCount to equal HISTORY_PERIOD
// seconds (as the default deployment does) is a coincidence of
// configuration, not a semantic identity: one entry per second is not
// guaranteed under bursts or gaps in polling.
type Repository struct {
	client         *redis.Client
	retentionCount int64
	log            *logging.Logger
}

// New builds a Repository against a Redis endpoint. retentionCount bounds
// the physical list length per key (HISTORY_PERIOD in the default config).
func New(addr string, retentionCount int64) *Repository {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Repository{client: client, retentionCount: retentionCount, log: logging.Named("redisrepo")}
}

// Init verifies connectivity; the list store needs no schema setup.
func (r *Repository) Init(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisrepo: ping: %w", err)
	}
	return nil
}

func key(assetID int) string {
	return fmt.Sprintf("rate:%d", assetID)
}

// History reads the full list for assetID and filters client-side to
// time >= now-period. An empty result is not an error.
func (r *Repository) History(ctx context.Context, assetID int, period time.Duration) ([]ratepoint.Point, error) {
	cutoff := time.Now().Add(-period).Unix()

	raw, err := r.client.LRange(ctx, key(assetID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisrepo: lrange: %w", err)
	}

	return decodeAndFilter(raw, cutoff, r.log)
}

func decodeAndFilter(raw []string, cutoff int64, log *logging.Logger) ([]ratepoint.Point, error) {
	points := make([]ratepoint.Point, 0, len(raw))
	for _, item := range raw {
		var p ratepoint.Point
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			if log != nil {
				log.Warn().Err(err).Msg("dropping undecodable list entry")
			}
			continue
		}
		if p.Time >= cutoff {
			points = append(points, p)
		}
	}
	return points, nil
}

// InsertMany issues one atomic pipeline per batch: for each point,
// RPUSH followed by LTRIM to the configured retention count. An empty
// slice is a no-op.
func (r *Repository) InsertMany(ctx context.Context, points []ratepoint.Point) error {
	if len(points) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, p := range points {
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redisrepo: encode point: %w", err)
		}
		k := key(p.AssetID)
		pipe.RPush(ctx, k, encoded)
		pipe.LTrim(ctx, k, -r.retentionCount, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisrepo: pipeline exec: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}
