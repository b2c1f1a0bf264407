package wsserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratefeed/internal/config"
	"ratefeed/internal/ratepoint"
	"ratefeed/internal/rateservice"
	"ratefeed/internal/symbols"
	"ratefeed/internal/workerpool"
)

type fakeRepo struct {
	historyPoints []ratepoint.Point
}

func (f *fakeRepo) Init(ctx context.Context) error { return nil }

func (f *fakeRepo) History(ctx context.Context, assetID int, period time.Duration) ([]ratepoint.Point, error) {
	return f.historyPoints, nil
}

func (f *fakeRepo) InsertMany(ctx context.Context, points []ratepoint.Point) error { return nil }

func (f *fakeRepo) Close(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, repo *fakeRepo) (*httptest.Server, *rateservice.Service) {
	t.Helper()
	symTable := symbols.New([]config.Symbol{{ID: 1, Name: "EURUSD"}})
	notifier := workerpool.New(workerpool.Config{Name: "notifier-test", Concurrency: 2, MaxSize: 16})
	db := workerpool.New(workerpool.Config{Name: "db-test", Concurrency: 1, MaxSize: 16})
	notifier.Start()
	db.Start()
	t.Cleanup(func() {
		notifier.Stop()
		db.Stop()
	})

	svc := rateservice.New(repo, symTable, notifier, db, 30*time.Minute)
	srv := NewServer(Config{Port: "0"}, svc)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, svc
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthzReportsOK(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRepo{})
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestAssetsReturnsSymbolTable(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRepo{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "assets"}))

	var got outboundFrame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "assets", got.Action)
}

func TestSubscribeSendsHistoryBeforeLivePoint(t *testing.T) {
	repo := &fakeRepo{historyPoints: []ratepoint.Point{{AssetID: 1, AssetName: "EURUSD", Time: 1, Value: 1.1}}}
	ts, svc := newTestServer(t, repo)
	conn := dial(t, ts)

	feed := make(chan []ratepoint.Quote, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx, feed)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":  "subscribe",
		"message": map[string]int{"assetId": 1},
	}))

	var history outboundFrame
	require.NoError(t, conn.ReadJSON(&history))
	require.Equal(t, "asset_history", history.Action)

	feed <- []ratepoint.Quote{{Symbol: "EURUSD", Bid: 1.2, Ask: 1.4}}

	var point outboundFrame
	require.NoError(t, conn.ReadJSON(&point))
	assert.Equal(t, "point", point.Action)
}

func TestClientIPPrefersForwardedForOverRemoteAddr(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.9:5555"}
	r.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.4", clientIP(r))
}

func TestClientIPFallsBackToRealIPThenRemoteAddr(t *testing.T) {
	withRealIP := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.9:5555"}
	withRealIP.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(withRealIP))

	bare := &http.Request{Header: http.Header{}, RemoteAddr: "198.51.100.8:6000"}
	assert.Equal(t, "198.51.100.8", clientIP(bare))
}

func TestIPLimiterAllowsUpToBurstThenBlocksSameIP(t *testing.T) {
	l := newIPLimiter(1, 2)
	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"), "third immediate request should exceed the burst")
}

func TestIPLimiterTracksEachIPIndependently(t *testing.T) {
	l := newIPLimiter(1, 1)
	assert.True(t, l.allow("1.1.1.1"))
	assert.False(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("2.2.2.2"), "a distinct IP must not share the first IP's bucket")
}

func TestRateLimitMiddlewareExemptsHealthz(t *testing.T) {
	l := newIPLimiter(0.001, 1)
	handler := rateLimitMiddleware(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "healthz must never be rate limited")
	}
}

func TestRateLimitMiddlewareRejectsOverLimitRequestsToWS(t *testing.T) {
	l := newIPLimiter(0.001, 1)
	handler := rateLimitMiddleware(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestUnknownActionIsIgnoredNotFatal(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRepo{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "bogus"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "assets"}))

	var got outboundFrame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "assets", got.Action)
}
