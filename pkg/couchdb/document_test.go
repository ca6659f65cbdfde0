package couchdb

import (
	"testing"
)

func TestDocumentPredicates(t *testing.T) {
	doc := &Document{}
	if doc.HasID() || doc.HasRev() || doc.HasKey() || doc.HasContent() {
		t.Error("An empty document must have no id, rev, key or content")
	}

	doc = &Document{ID: "doc1", Rev: "1-abc", Key: "k", Content: map[string]any{}}
	if !doc.HasID() || !doc.HasRev() || !doc.HasKey() || !doc.HasContent() {
		t.Error("A populated document must report all its fields")
	}
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument("doc1", "1-abc", `{"name":"first","n":2}`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if doc.ID != "doc1" || doc.Rev != "1-abc" {
		t.Errorf("Unexpected id/rev: %s/%s", doc.ID, doc.Rev)
	}
	content, ok := doc.Content.(map[string]any)
	if !ok {
		t.Fatalf("Expected object content, got %T", doc.Content)
	}
	if content["name"] != "first" {
		t.Errorf("Unexpected content: %v", content)
	}
}

func TestParseDocumentMalformed(t *testing.T) {
	if _, err := ParseDocument("doc1", "", "not json"); err == nil {
		t.Fatal("Expected a parse error")
	}
}

func TestContentObjectRejectsNonObjects(t *testing.T) {
	for _, content := range []any{nil, "text", 42.0, []any{1, 2}} {
		doc := &Document{ID: "doc1", Content: content}
		if _, err := doc.contentObject(); err == nil {
			t.Errorf("Expected a validation error for content %v", content)
		}
	}
}
