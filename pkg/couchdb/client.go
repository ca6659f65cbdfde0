package couchdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/eladkehat/JZBoy/internal/metrics"
)

const (
	// DefaultUpdateRetries is the total number of attempts made for document
	// updates when the connection is reset mid-request.
	DefaultUpdateRetries = 3

	// Database deletion occasionally fails server-side with a 500; such
	// requests are retried a few times with a short pause in between.
	// See https://issues.apache.org/jira/browse/COUCHDB-326
	busyRetryAttempts = 5
	busyRetryDelay    = 100 * time.Millisecond
)

// Client executes HTTP requests against CouchDB endpoints. It is safe for
// concurrent use; each request/response cycle is self-contained.
type Client struct {
	httpClient     *http.Client
	legacyEncoding bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLegacyEncoding toggles the legacy ISO-8859-1 body re-encoding quirk.
// It is on by default; see encoding.go.
func WithLegacyEncoding(enabled bool) Option {
	return func(c *Client) { c.legacyEncoding = enabled }
}

// NewClient creates a Client with the legacy encoding quirk enabled.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		legacyEncoding: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends a GET request and returns the parsed JSON body.
// Non-2xx responses are classified into a protocol error.
func (c *Client) Get(ctx context.Context, uri *url.URL) (any, error) {
	return c.execJSON(ctx, http.MethodGet, uri, nil, "")
}

// GetBody sends a GET request and returns the raw body text.
func (c *Client) GetBody(ctx context.Context, uri *url.URL) (string, error) {
	res, err := c.do(ctx, http.MethodGet, uri, nil, "")
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", newProtocolError(res.StatusCode, res.Body)
	}
	return res.Body, nil
}

// GetResponse sends a GET request and returns the response envelope without
// any error classification. Use this to handle status codes yourself, e.g.
// to treat a 404 as a negative result rather than an error.
func (c *Client) GetResponse(ctx context.Context, uri *url.URL) (*Response, error) {
	return c.do(ctx, http.MethodGet, uri, nil, "")
}

// GetRaw sends a GET request and returns the raw http.Response with its body
// still open. The caller must drain and close the body.
func (c *Client) GetRaw(ctx context.Context, uri *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// Post sends a POST request with an optional JSON body and returns the parsed
// JSON response.
func (c *Client) Post(ctx context.Context, uri *url.URL, body string) (any, error) {
	return c.execJSON(ctx, http.MethodPost, uri, c.jsonBody(body), "application/json")
}

// Put sends a PUT request with an optional JSON body and returns the parsed
// JSON response.
func (c *Client) Put(ctx context.Context, uri *url.URL, body string) (any, error) {
	return c.execJSON(ctx, http.MethodPut, uri, c.jsonBody(body), "application/json")
}

// PutBytes sends a PUT request with an arbitrary payload and content type.
// Use this to upload attachments.
func (c *Client) PutBytes(ctx context.Context, uri *url.URL, data []byte, contentType string) (any, error) {
	return c.execJSON(ctx, http.MethodPut, uri, data, contentType)
}

// Delete sends a DELETE request and returns the parsed JSON response.
func (c *Client) Delete(ctx context.Context, uri *url.URL) (any, error) {
	return c.execJSON(ctx, http.MethodDelete, uri, nil, "")
}

// PutWithRetry sends a PUT request, retrying on low-level connection failures
// up to attempts total executions. Connection resets are common on document
// updates, which is the main caller of this policy. Responses with error
// status codes are never retried here; they pass straight to classification.
// When every attempt fails at the connection level the returned error names
// the endpoint and the attempt count.
func (c *Client) PutWithRetry(ctx context.Context, uri *url.URL, body string, attempts int) (any, error) {
	// a non-positive attempt budget permits no executions at all
	if attempts < 1 {
		return nil, newExhaustedError(uri.String(), attempts, nil)
	}
	payload := c.jsonBody(body)
	var res *Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.do(ctx, http.MethodPut, uri, payload, "application/json")
		if err != nil {
			if isConnectionError(err) {
				metrics.RecordRetry("transient")
				log.Debug().
					Err(err).
					Int("attempt", attempt).
					Str("endpoint", uri.String()).
					Msg("Connection failure on update attempt")
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if isConnectionError(err) {
			return nil, newExhaustedError(uri.String(), attempts, err)
		}
		return nil, err
	}
	if err := mapResponseError(res); err != nil {
		return nil, err
	}
	return res.JSON()
}

// DeleteWithBusyRetry sends a DELETE request, retrying 500-class responses up
// to a fixed number of attempts with a short fixed delay. Any other non-2xx
// status is surfaced immediately. Used for database deletion only.
func (c *Client) DeleteWithBusyRetry(ctx context.Context, uri *url.URL) (any, error) {
	var out any
	attempt := 0
	op := func() error {
		attempt++
		body, err := c.Delete(ctx, uri)
		if err != nil {
			var cerr *Error
			if errors.As(err, &cerr) && cerr.Kind == KindProtocol && cerr.StatusCode >= 500 {
				metrics.RecordRetry("server_busy")
				log.Debug().
					Err(err).
					Int("attempt", attempt).
					Str("endpoint", uri.String()).
					Msg("Server busy on delete attempt")
				return err
			}
			return backoff.Permanent(err)
		}
		out = body
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(busyRetryDelay), busyRetryAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// execJSON executes a request, classifies the response and returns the parsed
// JSON body.
func (c *Client) execJSON(ctx context.Context, method string, uri *url.URL, body []byte, contentType string) (any, error) {
	res, err := c.do(ctx, method, uri, body, contentType)
	if err != nil {
		return nil, err
	}
	if err := mapResponseError(res); err != nil {
		return nil, err
	}
	return res.JSON()
}

// do performs a single request execution and drains the response into an
// envelope.
func (c *Client) do(ctx context.Context, method string, uri *url.URL, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri.String(), reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	httpRes, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRequest(method, endpointKind(uri.Path), 0, time.Since(start))
		return nil, err
	}
	res, err := newResponse(httpRes)
	metrics.RecordRequest(method, endpointKind(uri.Path), httpRes.StatusCode, time.Since(start))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// jsonBody turns a JSON string into wire bytes, applying the legacy encoding
// quirk when enabled. An empty string means no body.
func (c *Client) jsonBody(body string) []byte {
	if body == "" {
		return nil
	}
	return c.encodeBody(body)
}

// endpointKind maps a request path to a bounded metric label, so database
// names and document ids never become Prometheus label values.
func endpointKind(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segments) {
	case 1:
		if segments[0] == "" {
			return "root"
		}
		if strings.HasPrefix(segments[0], "_") {
			return "server"
		}
		return "db"
	case 2:
		switch segments[1] {
		case "_all_docs":
			return "all_docs"
		case "_bulk_docs":
			return "bulk"
		case "_changes":
			return "changes"
		case "_revs_limit":
			return "revs_limit"
		case "_compact":
			return "compact"
		case "_view_cleanup":
			return "view_cleanup"
		case "_temp_view":
			return "temp_view"
		}
		return "doc"
	case 3:
		switch segments[1] {
		case "_design":
			return "design"
		case "_compact":
			return "compact"
		}
		return "attachment"
	}
	if segments[1] == "_design" {
		switch segments[3] {
		case "_view":
			return "view"
		case "_info":
			return "design"
		case "_show":
			return "show"
		case "_list":
			return "list"
		}
	}
	return "other"
}

// isConnectionError reports whether err is a low-level connection failure
// (reset, refused, broken pipe, unexpected close) as opposed to a response
// the server actually produced.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
