package couchdb

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Response encapsulates a reply from the CouchDB API: the HTTP status code,
// the reason phrase, the raw body text and a lazily parsed JSON view of it.
type Response struct {
	StatusCode int
	Reason     string
	Body       string

	parsed    any
	parseErr  error
	parseDone bool
}

// newResponse drains res.Body and builds a Response envelope. The http
// response body is closed before returning.
func newResponse(res *http.Response) (*Response, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Reason:     reasonPhrase(res),
		Body:       string(body),
	}, nil
}

func reasonPhrase(res *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(res.Status, fmt.Sprintf("%d", res.StatusCode)))
}

// Succeeded reports whether the status code is in [200,300).
func (r *Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON returns the body parsed as a JSON value, computing it on first use.
// An empty body yields nil.
//
// If two goroutines get here concurrently, both may parse the body. That is
// tolerated: parsing is a pure function of the immutable body text, so both
// arrive at the same value and the duplicate work is cheaper than putting a
// lock on every call.
func (r *Response) JSON() (any, error) {
	if !r.parseDone {
		if r.Body != "" {
			var v any
			r.parseErr = json.Unmarshal([]byte(r.Body), &v)
			r.parsed = v
		}
		r.parseDone = true
	}
	return r.parsed, r.parseErr
}
