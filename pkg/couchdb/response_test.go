package couchdb

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestNewResponseDrainsBody(t *testing.T) {
	res := &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}

	r, err := newResponse(res)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", r.StatusCode)
	}
	if r.Reason != "OK" {
		t.Errorf("Expected reason OK, got %q", r.Reason)
	}
	if r.Body != `{"ok":true}` {
		t.Errorf("Unexpected body: %q", r.Body)
	}
}

func TestResponseSucceeded(t *testing.T) {
	tests := []struct {
		status   int
		expected bool
	}{
		{199, false},
		{200, true},
		{201, true},
		{299, true},
		{300, false},
		{404, false},
		{500, false},
	}
	for _, tt := range tests {
		r := &Response{StatusCode: tt.status}
		if r.Succeeded() != tt.expected {
			t.Errorf("Succeeded() for %d: expected %v", tt.status, tt.expected)
		}
	}
}

func TestResponseJSON(t *testing.T) {
	r := &Response{StatusCode: 200, Body: `{"db_name":"mydb","doc_count":42}`}

	v, err := r.JSON()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Expected an object, got %T", v)
	}
	if obj["db_name"] != "mydb" {
		t.Errorf("Expected db_name mydb, got %v", obj["db_name"])
	}
	if obj["doc_count"] != float64(42) {
		t.Errorf("Expected doc_count 42, got %v", obj["doc_count"])
	}

	// The parse is computed once; later calls return the same value.
	again, err := r.JSON()
	if err != nil {
		t.Fatalf("Unexpected error on second call: %v", err)
	}
	if again.(map[string]any)["db_name"] != "mydb" {
		t.Error("Second call returned a different value")
	}
}

func TestResponseJSONEmptyBody(t *testing.T) {
	r := &Response{StatusCode: 200, Body: ""}
	v, err := r.JSON()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("Expected nil for an empty body, got %v", v)
	}
}

func TestResponseJSONMalformedBody(t *testing.T) {
	r := &Response{StatusCode: 200, Body: "not json"}
	if _, err := r.JSON(); err == nil {
		t.Fatal("Expected a parse error")
	}
	// The error is sticky across calls.
	if _, err := r.JSON(); err == nil {
		t.Fatal("Expected the parse error to persist")
	}
}
