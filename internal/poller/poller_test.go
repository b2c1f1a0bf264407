package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamYieldsDecodedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null({\"Rates\":[{\"Symbol\":\"EURUSD\",\"Bid\":1.0,\"Ask\":1.2}]});\n"))
	}))
	defer srv.Close()

	p := New(srv.URL, 20*time.Millisecond, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := p.Stream(ctx)
	batch := <-out
	require.Len(t, batch, 1)
	assert.Equal(t, "EURUSD", batch[0].Symbol)
	assert.Equal(t, 1.0, batch[0].Bid)
	assert.Equal(t, 1.2, batch[0].Ask)
}

func TestStreamYieldsEmptyBatchOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL, 20*time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out := p.Stream(ctx)
	batch := <-out
	assert.Empty(t, batch)
}

func TestStripJSONP(t *testing.T) {
	body, err := stripJSONP([]byte("null({\"a\":1});\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(body))

	_, err = stripJSONP([]byte(`x`))
	assert.Error(t, err)
}
