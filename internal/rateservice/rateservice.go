// Package rateservice implements the rate service (C4): it drives the
// poller, filters and transforms upstream quotes into rate points, owns
// the subscription registry, and dispatches side effects to the notifier
// and DB worker pools.
package rateservice

import (
	"context"
	"sync"
	"time"

	"ratefeed/internal/logging"
	"ratefeed/internal/ratepoint"
	"ratefeed/internal/repository"
	"ratefeed/internal/symbols"
	"ratefeed/internal/workerpool"
)

// Deliver is a subscriber's callback, invoked with a snapshot of the point
// on the notifier pool. Implementations must not block indefinitely; the
// pool's per-task timeout bounds a stuck deliver.
type Deliver func(ctx context.Context, point ratepoint.Point)

type subscriber struct {
	assetID int
	deliver Deliver
}

// Service owns the subscription registry and the poll-to-dispatch pipeline.
type Service struct {
	repo          repository.Repository
	symbols       *symbols.Table
	notifierPool  *workerpool.Pool
	dbPool        *workerpool.Pool
	historyPeriod time.Duration

	mu          sync.RWMutex
	subscribers map[string]subscriber

	log *logging.Logger
}

// New builds a Service. notifierPool and dbPool must already be started by
// the caller; Service only submits to them.
func New(repo repository.Repository, symTable *symbols.Table, notifierPool, dbPool *workerpool.Pool, historyPeriod time.Duration) *Service {
	return &Service{
		repo:          repo,
		symbols:       symTable,
		notifierPool:  notifierPool,
		dbPool:        dbPool,
		historyPeriod: historyPeriod,
		subscribers:   make(map[string]subscriber),
		log:           logging.Named("rateservice"),
	}
}

// Run consumes batches from in until it closes or ctx is cancelled. For
// each batch: a single timestamp is taken once, admitted quotes become
// points, subscribers are notified synchronously (submission only; actual
// delivery happens on the notifier pool), and admitted points are handed
// to the DB pool in one submission per batch.
func (s *Service) Run(ctx context.Context, in <-chan []ratepoint.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case quotes, ok := <-in:
			if !ok {
				return
			}
			s.processBatch(ctx, quotes)
		}
	}
}

func (s *Service) processBatch(ctx context.Context, quotes []ratepoint.Quote) {
	timestamp := time.Now().Unix()

	points := make([]ratepoint.Point, 0, len(quotes))
	for _, q := range quotes {
		assetID, ok := s.symbols.IDFor(q.Symbol)
		if !ok {
			continue
		}
		point := ratepoint.Point{
			AssetID:   assetID,
			AssetName: q.Symbol,
			Time:      timestamp,
			Value:     ratepoint.Mid(q),
		}
		points = append(points, point)
		s.notifySubscribers(ctx, point)
	}

	if len(points) == 0 {
		return
	}
	s.dbPool.Submit(func(taskCtx context.Context) {
		if err := s.repo.InsertMany(taskCtx, points); err != nil {
			s.log.Error().Err(err).Msg("insert many failed")
		}
	})
}

// notifySubscribers walks a snapshot of the registry (read lock only) and
// submits one notifier-pool task per matching subscriber. A panic inside a
// single deliver callback is isolated by the worker pool and never affects
// other subscribers.
func (s *Service) notifySubscribers(ctx context.Context, point ratepoint.Point) {
	s.mu.RLock()
	matching := make([]subscriber, 0)
	for _, sub := range s.subscribers {
		if sub.assetID == point.AssetID {
			matching = append(matching, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range matching {
		deliver := sub.deliver
		p := point
		s.notifierPool.Submit(func(taskCtx context.Context) {
			deliver(taskCtx, p)
		})
	}
}

// Subscribe replaces any prior subscription for subscriberID, then installs
// a new one if assetID is admissible. An unknown assetID is a silent no-op
// at this layer; the caller is responsible for logging.
func (s *Service) Subscribe(subscriberID string, assetID int, deliver Deliver) {
	s.Unsubscribe(subscriberID)
	if !s.symbols.Known(assetID) {
		return
	}
	s.mu.Lock()
	s.subscribers[subscriberID] = subscriber{assetID: assetID, deliver: deliver}
	s.mu.Unlock()
	s.log.Info().Str("subscriber", subscriberID).Int("assetId", assetID).Msg("new subscriber")
}

// Unsubscribe removes the entry for subscriberID if present; else no-op.
func (s *Service) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	_, existed := s.subscribers[subscriberID]
	delete(s.subscribers, subscriberID)
	s.mu.Unlock()
	if existed {
		s.log.Info().Str("subscriber", subscriberID).Msg("unsubscribe")
	}
}

// History delegates to the repository with the configured retention period.
func (s *Service) History(ctx context.Context, assetID int) ([]ratepoint.Point, error) {
	return s.repo.History(ctx, assetID, s.historyPeriod)
}

// Symbols returns the static symbol table.
func (s *Service) Symbols() []symbols.Symbol {
	return s.symbols.Symbols()
}

// AssetKnown reports whether assetID is in the admitted symbol set, for
// callers (the connection handler) that need to decide whether to log a
// warning before calling Subscribe/History.
func (s *Service) AssetKnown(assetID int) bool {
	return s.symbols.Known(assetID)
}
