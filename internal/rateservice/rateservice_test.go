package rateservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratefeed/internal/config"
	"ratefeed/internal/ratepoint"
	"ratefeed/internal/symbols"
	"ratefeed/internal/workerpool"
)

type fakeRepo struct {
	mu       sync.Mutex
	inserted [][]ratepoint.Point
}

func (f *fakeRepo) Init(ctx context.Context) error { return nil }

func (f *fakeRepo) History(ctx context.Context, assetID int, period time.Duration) ([]ratepoint.Point, error) {
	return nil, nil
}

func (f *fakeRepo) InsertMany(ctx context.Context, points []ratepoint.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, points)
	return nil
}

func (f *fakeRepo) Close(ctx context.Context) error { return nil }

func newTestService(t *testing.T, repo *fakeRepo) (*Service, *workerpool.Pool, *workerpool.Pool) {
	t.Helper()
	symTable := symbols.New([]config.Symbol{
		{ID: 1, Name: "EURUSD"},
		{ID: 2, Name: "USDJPY"},
	})
	notifier := workerpool.New(workerpool.Config{Name: "notifier-test", Concurrency: 2, MaxSize: 16})
	db := workerpool.New(workerpool.Config{Name: "db-test", Concurrency: 1, MaxSize: 16})
	notifier.Start()
	db.Start()
	t.Cleanup(func() {
		notifier.Stop()
		db.Stop()
	})
	return New(repo, symTable, notifier, db, 30*time.Minute), notifier, db
}

func TestProcessBatchDerivesMidPriceAndPersists(t *testing.T) {
	repo := &fakeRepo{}
	svc, _, _ := newTestService(t, repo)

	svc.processBatch(context.Background(), []ratepoint.Quote{
		{Symbol: "EURUSD", Bid: 1.0, Ask: 1.2},
		{Symbol: "UNKNOWN", Bid: 9, Ask: 9},
	})

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.inserted) == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.inserted[0], 1)
	assert.Equal(t, 1, repo.inserted[0][0].AssetID)
	assert.InDelta(t, 1.1, repo.inserted[0][0].Value, 1e-9)
}

func TestSubscribeReplacesPriorEntryAndRejectsUnknownAsset(t *testing.T) {
	repo := &fakeRepo{}
	svc, _, _ := newTestService(t, repo)

	var got []ratepoint.Point
	var mu sync.Mutex
	deliver := func(ctx context.Context, p ratepoint.Point) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}

	svc.Subscribe("peer:1", 1, deliver)
	svc.Subscribe("peer:1", 2, deliver) // replaces the prior subscription

	svc.Subscribe("peer:2", 999, deliver) // unknown asset: silent no-op
	svc.mu.RLock()
	_, ok := svc.subscribers["peer:2"]
	svc.mu.RUnlock()
	assert.False(t, ok)

	svc.processBatch(context.Background(), []ratepoint.Quote{
		{Symbol: "EURUSD", Bid: 1.0, Ask: 1.0},
		{Symbol: "USDJPY", Bid: 2.0, Ask: 2.0},
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, got[0].AssetID)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	repo := &fakeRepo{}
	svc, _, _ := newTestService(t, repo)

	svc.Unsubscribe("never-subscribed")

	svc.Subscribe("peer:1", 1, func(ctx context.Context, p ratepoint.Point) {})
	svc.Unsubscribe("peer:1")
	svc.Unsubscribe("peer:1")

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	assert.Empty(t, svc.subscribers)
}
