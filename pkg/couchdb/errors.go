package couchdb

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies client errors into the categories a caller may want
// to branch on.
type ErrorKind int

const (
	// KindConstruction means the inputs could not be turned into a valid
	// endpoint. Never retried.
	KindConstruction ErrorKind = iota
	// KindTransportExhausted means every transient-failure retry attempt
	// failed at the connection level.
	KindTransportExhausted
	// KindProtocol means CouchDB answered with a non-2xx status.
	KindProtocol
	// KindValidation means a client-side precondition failed before any
	// request was sent.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindTransportExhausted:
		return "transport_exhausted"
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	}
	return "unknown"
}

// Error is the error type returned by all operations in this package.
// StatusCode is set for protocol errors only; Endpoint and Attempts are set
// when the transport gave up retrying.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Endpoint   string
	Attempts   int
	cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newConstructionError(err error) *Error {
	return &Error{
		Kind:    KindConstruction,
		Message: fmt.Sprintf("invalid endpoint inputs: %v", err),
		cause:   err,
	}
}

func newValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func newExhaustedError(endpoint string, attempts int, cause error) *Error {
	return &Error{
		Kind:     KindTransportExhausted,
		Endpoint: endpoint,
		Attempts: attempts,
		Message:  fmt.Sprintf("operation failed after %d attempts: %s", attempts, endpoint),
		cause:    cause,
	}
}

func newProtocolError(statusCode int, message string) *Error {
	return &Error{Kind: KindProtocol, StatusCode: statusCode, Message: message}
}

// mapResponseError classifies a response. Status codes in [200,300) are
// success and yield nil. Anything else becomes a protocol error whose message
// is composed from the error and reason fields of the body, falling back to
// the status line when the body is not JSON or lacks those fields.
func mapResponseError(res *Response) error {
	if res.Succeeded() {
		return nil
	}
	return newProtocolError(res.StatusCode, errorMessageFromResponse(res))
}

// errorMessageFromResponse builds a message like
// "Error: not_found - no_db_file (404)" from a CouchDB error body.
func errorMessageFromResponse(res *Response) string {
	body, err := res.JSON()
	obj, ok := body.(map[string]any)
	if err != nil || !ok {
		return fmt.Sprintf("%d %s", res.StatusCode, res.Reason)
	}
	errField, hasErr := obj["error"].(string)
	reason, hasReason := obj["reason"].(string)
	if !hasErr && !hasReason {
		return fmt.Sprintf("%d %s", res.StatusCode, res.Reason)
	}
	msg := ""
	if hasErr {
		msg = "Error: " + errField
	}
	if hasReason {
		msg += " - " + reason
	}
	return fmt.Sprintf("%s (%d)", msg, res.StatusCode)
}

// IsNotFound reports whether err is a protocol error with a 404 status.
func IsNotFound(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) &&
		cerr.Kind == KindProtocol &&
		cerr.StatusCode == http.StatusNotFound
}

// StatusCode extracts the HTTP status from a protocol error, or 0 when err
// carries none.
func StatusCode(err error) int {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.StatusCode
	}
	return 0
}
