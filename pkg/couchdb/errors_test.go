package couchdb

import (
	"errors"
	"testing"
)

func TestMapResponseError(t *testing.T) {
	tests := []struct {
		name       string
		res        *Response
		expectErr  bool
		expectMsg  string
		expectCode int
	}{
		{
			name:      "success yields nil",
			res:       &Response{StatusCode: 201, Reason: "Created", Body: `{"ok":true}`},
			expectErr: false,
		},
		{
			name:       "couchdb error body",
			res:        &Response{StatusCode: 404, Reason: "Object Not Found", Body: `{"error":"not_found","reason":"no_db_file"}`},
			expectErr:  true,
			expectMsg:  "Error: not_found - no_db_file (404)",
			expectCode: 404,
		},
		{
			name:       "error field only",
			res:        &Response{StatusCode: 500, Reason: "Internal Server Error", Body: `{"error":"unknown_error"}`},
			expectErr:  true,
			expectMsg:  "Error: unknown_error (500)",
			expectCode: 500,
		},
		{
			name:       "non-json body falls back to status line",
			res:        &Response{StatusCode: 500, Reason: "Internal Server Error", Body: "<html>boom</html>"},
			expectErr:  true,
			expectMsg:  "500 Internal Server Error",
			expectCode: 500,
		},
		{
			name:       "json body without error fields falls back to status line",
			res:        &Response{StatusCode: 400, Reason: "Bad Request", Body: `{"unexpected":true}`},
			expectErr:  true,
			expectMsg:  "400 Bad Request",
			expectCode: 400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapResponseError(tt.res)
			if !tt.expectErr {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected *Error, got %T", err)
			}
			if cerr.Kind != KindProtocol {
				t.Errorf("Expected protocol kind, got %s", cerr.Kind)
			}
			if cerr.Error() != tt.expectMsg {
				t.Errorf("Expected message %q, got %q", tt.expectMsg, cerr.Error())
			}
			if cerr.StatusCode != tt.expectCode {
				t.Errorf("Expected status %d, got %d", tt.expectCode, cerr.StatusCode)
			}
		})
	}
}

func TestExhaustedErrorMessage(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := newExhaustedError("http://localhost:5984/mydb/doc1", 3, cause)

	expected := "operation failed after 3 attempts: http://localhost:5984/mydb/doc1"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
	if err.Kind != KindTransportExhausted {
		t.Errorf("Expected transport_exhausted kind, got %s", err.Kind)
	}
	if err.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", err.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the exhausted error to wrap its cause")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(newProtocolError(404, "Error: not_found - missing (404)")) {
		t.Error("Expected a 404 protocol error to be reported as not found")
	}
	if IsNotFound(newProtocolError(409, "Error: conflict - Document update conflict. (409)")) {
		t.Error("A 409 must not be reported as not found")
	}
	if IsNotFound(newValidationError("document has no revision")) {
		t.Error("A validation error must not be reported as not found")
	}
	if IsNotFound(nil) {
		t.Error("nil must not be reported as not found")
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(newProtocolError(412, "Error: file_exists (412)")); got != 412 {
		t.Errorf("Expected 412, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("Expected 0 for a plain error, got %d", got)
	}
}

func TestErrorKindString(t *testing.T) {
	kinds := map[ErrorKind]string{
		KindConstruction:       "construction",
		KindTransportExhausted: "transport_exhausted",
		KindProtocol:           "protocol",
		KindValidation:         "validation",
		ErrorKind(99):          "unknown",
	}
	for kind, expected := range kinds {
		if kind.String() != expected {
			t.Errorf("Expected %s, got %s", expected, kind.String())
		}
	}
}
