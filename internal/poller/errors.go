package poller

import (
	"errors"
	"io"
	"net/http"
)

var errMalformedWrapper = errors.New("poller: malformed JSONP wrapper")

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
