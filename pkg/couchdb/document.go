package couchdb

import (
	"github.com/goccy/go-json"
)

// Document wraps a single CouchDB record:
//
//   - ID:      its unique id in the database
//   - Rev:     its revision token, reissued by the server on every write.
//     Revisions are opaque; the client never compares or orders them.
//   - Key:     if the document came out of a view, its key in that view
//   - Content: the document body as an arbitrary JSON value. View rows may
//     carry scalar values here, but write operations require an object.
type Document struct {
	ID      string
	Rev     string
	Key     string
	Content any
}

// NewDocument creates a Document holding only content. On create, the server
// assigns it an id.
func NewDocument(content any) *Document {
	return &Document{Content: content}
}

// NewDocumentWithID creates a Document with a caller-supplied id.
func NewDocumentWithID(id string, content any) *Document {
	return &Document{ID: id, Content: content}
}

// ParseDocument creates a Document from a JSON string.
func ParseDocument(id, rev, jsonStr string) (*Document, error) {
	var content any
	if err := json.Unmarshal([]byte(jsonStr), &content); err != nil {
		return nil, err
	}
	return &Document{ID: id, Rev: rev, Content: content}, nil
}

// HasID reports whether the document carries an id.
func (d *Document) HasID() bool { return d.ID != "" }

// HasRev reports whether the document carries a revision token.
func (d *Document) HasRev() bool { return d.Rev != "" }

// HasKey reports whether the document carries a view key.
func (d *Document) HasKey() bool { return d.Key != "" }

// HasContent reports whether the document carries a non-nil JSON value.
func (d *Document) HasContent() bool { return d.Content != nil }

// contentObject returns the content as a JSON object, or a validation error
// when the content is absent or not an object. Write operations require
// object content.
func (d *Document) contentObject() (map[string]any, error) {
	obj, ok := d.Content.(map[string]any)
	if !ok {
		return nil, newValidationError("document content must be a JSON object")
	}
	return obj, nil
}

// contentJSON serializes the document content.
func (d *Document) contentJSON() (string, error) {
	data, err := json.Marshal(d.Content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
