// Package poller fetches the upstream quote snapshot at a fixed cadence and
// emits batches on a channel, pacing (not rate-limiting) the cadence: the
// next sleep is the interval minus the time the tick took, a failed tick is
// paced exactly like a successful one, and at most one request is ever
// outstanding.
package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ratefeed/internal/logging"
	"ratefeed/internal/ratepoint"
)

const (
	jsonpPrefixLen = 5
	jsonpSuffixLen = 3
)

// Poller periodically fetches the upstream endpoint and strips its JSONP
// wrapper.
type Poller struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      *logging.Logger
}

// New builds a Poller against url, fetching every interval with a per-request
// timeout.
func New(url string, interval, timeout time.Duration) *Poller {
	return &Poller{
		url:      url,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      logging.Named("poller"),
	}
}

// Stream runs the poll loop until ctx is cancelled, sending one batch per
// tick on the returned channel. The channel is closed when the loop exits.
// The channel has capacity 1: a batch still pending when the next tick
// fires is meaningless once superseded, so the service is expected to drain
// it promptly rather than let batches pile up.
func (p *Poller) Stream(ctx context.Context) <-chan []ratepoint.Quote {
	out := make(chan []ratepoint.Quote, 1)
	go p.run(ctx, out)
	return out
}

func (p *Poller) run(ctx context.Context, out chan<- []ratepoint.Quote) {
	defer close(out)
	for {
		start := time.Now()

		quotes, err := p.fetch(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("error while fetching rates")
			quotes = nil
		}

		select {
		case out <- quotes:
		case <-ctx.Done():
			return
		}

		elapsed := time.Since(start)
		delay := p.interval - elapsed
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([]ratepoint.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf []byte
	buf, err = readAll(resp)
	if err != nil {
		return nil, err
	}

	body, err := stripJSONP(buf)
	if err != nil {
		return nil, err
	}

	var batch ratepoint.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, err
	}
	return batch.Rates, nil
}

// stripJSONP discards the first jsonpPrefixLen and last jsonpSuffixLen bytes
// of the wrapped response (`null({...});`), the way the upstream's JSONP
// callback wrapper is always shaped. A body too short to contain a wrapper
// is treated as malformed rather than risking a slice-bounds panic.
func stripJSONP(raw []byte) ([]byte, error) {
	if len(raw) < jsonpPrefixLen+jsonpSuffixLen {
		return nil, errMalformedWrapper
	}
	body := raw[jsonpPrefixLen : len(raw)-jsonpSuffixLen]
	trimmed := trimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, errMalformedWrapper
	}
	return body, nil
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
