package couchdb

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/eladkehat/JZBoy/internal/metrics"
)

// DefaultBulkLimit is the bulk buffer size at which a save triggers an
// automatic flush.
const DefaultBulkLimit = 1000

// Bulk-update buffering. Bulk inserts are dramatically faster than individual
// writes, so SaveInBulk queues documents in memory and sends them to
// _bulk_docs in one request once the buffer reaches its limit (or on an
// explicit flush). The buffer is owned by the Database and shared by every
// goroutine using the handle.

// BulkLimit returns the buffer size at which a save triggers an automatic
// flush.
func (db *Database) BulkLimit() int {
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	return db.bulkLimit
}

// SetBulkLimit sets the automatic flush threshold. It does not flush the
// buffer even if its current size exceeds the new limit.
func (db *Database) SetBulkLimit(limit int) error {
	if limit < 1 {
		return newValidationError("bulk limit must be greater than 0")
	}
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	db.bulkLimit = limit
	return nil
}

// SaveInBulk queues doc for a bulk save instead of sending it right away.
// A document without content fails validation and leaves the buffer
// unchanged. When the buffer reaches the limit as a result of this save it is
// flushed synchronously before returning.
func (db *Database) SaveInBulk(ctx context.Context, doc *Document) error {
	// a document with no content has nothing to save
	if !doc.HasContent() {
		return newValidationError("document has no JSON content")
	}
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	db.bulkDocs = append(db.bulkDocs, doc)
	if len(db.bulkDocs) >= db.bulkLimit {
		_, err := db.flushBulkLocked(ctx, false, false)
		return err
	}
	return nil
}

// DeleteInBulk queues doc for deletion in the next bulk save by setting a
// _deleted marker into its content, creating an empty object first when the
// document has none. Non-object content fails validation, as on every other
// write path.
func (db *Database) DeleteInBulk(ctx context.Context, doc *Document) error {
	if doc.Content == nil {
		doc.Content = map[string]any{}
	}
	obj, err := doc.contentObject()
	if err != nil {
		return err
	}
	obj["_deleted"] = true
	return db.SaveInBulk(ctx, doc)
}

// FlushBulk sends every queued document to CouchDB in a single bulk request
// and empties the buffer. With allOrNothing the request carries transactional
// semantics. The per-document report is parsed only when returnReport is
// true; the report can be large, so skip it when you have no use for it.
//
// The bulk call itself does not fail for individual document conflicts; each
// report row succeeds or fails on its own.
func (db *Database) FlushBulk(ctx context.Context, allOrNothing, returnReport bool) (BulkResults, error) {
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	return db.flushBulkLocked(ctx, allOrNothing, returnReport)
}

// flushBulkLocked does the flush work. Callers must hold bulkMu.
func (db *Database) flushBulkLocked(ctx context.Context, allOrNothing, returnReport bool) (BulkResults, error) {
	if len(db.bulkDocs) == 0 {
		if returnReport {
			return BulkResults{}, nil
		}
		return nil, nil
	}

	docs := make([]any, 0, len(db.bulkDocs))
	for _, doc := range db.bulkDocs {
		node, err := doc.contentObject()
		if err != nil {
			return nil, err
		}
		if doc.HasID() { // without an id the server assigns a fresh one
			node["_id"] = doc.ID
		}
		if doc.HasRev() { // a revision makes this an update rather than an insert
			node["_rev"] = doc.Rev
		}
		docs = append(docs, node)
	}
	root := map[string]any{"docs": docs}
	if allOrNothing {
		root["all_or_nothing"] = true
	}
	payload, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}

	uri, err := bulkDocsURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return nil, err
	}
	// the bulk API reports problems per document row, so a successful call
	// may still carry rejected writes in its report
	body, err := db.client().Post(ctx, uri, string(payload))
	if err != nil {
		return nil, err
	}
	flushed := len(db.bulkDocs)
	db.bulkDocs = db.bulkDocs[:0]
	metrics.RecordBulkFlush(flushed)
	log.Debug().
		Int("docs", flushed).
		Str("database", db.name).
		Msg("Flushed bulk updates")

	if !returnReport {
		return nil, nil
	}
	return parseBulkResults(body)
}

// PendingBulkCount returns the number of documents queued for bulk save.
func (db *Database) PendingBulkCount() int {
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	return len(db.bulkDocs)
}

// ClearBulk drops every document queued for bulk save without sending them.
func (db *Database) ClearBulk() {
	db.bulkMu.Lock()
	defer db.bulkMu.Unlock()
	db.bulkDocs = db.bulkDocs[:0]
}
