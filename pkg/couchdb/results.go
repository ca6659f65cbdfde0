package couchdb

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Normalization of the raw JSON shapes CouchDB returns into Documents.

// parseDocuments normalizes a `{total_rows, rows: [...]}` response from an
// _all_docs or view query into an ordered list of Documents. Per row:
//
//  1. A "doc" field (include_docs=true was passed) wins: the Document is
//     built from it, with _id and _rev extracted out of the body.
//  2. A row with an "error" field contributes nothing to the result.
//  3. Otherwise the row's "value" becomes the content; if it is an object, a
//     "rev" field (or "_rev" fallback) is extracted as the revision.
//
// Output order matches row order; skipped rows make the result shorter than
// total_rows.
func parseDocuments(v any) ([]*Document, error) {
	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object with rows, got %T", v)
	}
	rawRows, ok := root["rows"].([]any)
	if !ok {
		return nil, fmt.Errorf("response has no rows array")
	}
	results := make([]*Document, 0, len(rawRows))
	for _, rawRow := range rawRows {
		row, ok := rawRow.(map[string]any)
		if !ok {
			continue
		}
		id, _ := row["id"].(string)
		key, _ := row["key"].(string)
		if docNode, ok := row["doc"].(map[string]any); ok {
			rev, _ := docNode["_rev"].(string)
			delete(docNode, "_rev")
			delete(docNode, "_id") // same as "id" from the row
			results = append(results, &Document{ID: id, Rev: rev, Key: key, Content: docNode})
			continue
		}
		if _, hasErr := row["error"]; hasErr {
			continue
		}
		value := row["value"]
		rev := ""
		if obj, ok := value.(map[string]any); ok {
			if r, ok := obj["rev"].(string); ok {
				rev = r
				delete(obj, "rev")
			} else if r, ok := obj["_rev"].(string); ok {
				rev = r
				delete(obj, "_rev")
			}
		}
		results = append(results, &Document{ID: id, Rev: rev, Key: key, Content: value})
	}
	return results, nil
}

// parseDocumentResult builds a Document from a write response shaped as
// `{id, rev?}`. No rev is returned when saving in batch mode. The full
// response body is kept as the document content.
func parseDocumentResult(v any) (*Document, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object result, got %T", v)
	}
	id, ok := obj["id"].(string)
	if !ok {
		return nil, fmt.Errorf("result has no id field")
	}
	rev, _ := obj["rev"].(string)
	return &Document{ID: id, Rev: rev, Content: obj}, nil
}

// buildDocumentFromJSONResponse turns a full document body (a GET by id
// response) into a Document, pulling _id and _rev out of the content.
func buildDocumentFromJSONResponse(v any) (*Document, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object document, got %T", v)
	}
	id, _ := obj["_id"].(string)
	rev, _ := obj["_rev"].(string)
	delete(obj, "_id")
	delete(obj, "_rev")
	return &Document{ID: id, Rev: rev, Content: obj}, nil
}

// BulkResult is one per-document row of a bulk update report. Rows succeed or
// fail independently; a failed row has Error and Reason set and no Rev.
type BulkResult struct {
	ID     string
	Rev    string
	Error  string
	Reason string
}

// Failed reports whether this row describes a rejected write, e.g. a
// conflict.
func (r BulkResult) Failed() bool { return r.Error != "" }

// BulkResults is the full report of a bulk update.
type BulkResults []BulkResult

// Err aggregates every failed row into a single error, or returns nil when
// all rows succeeded.
func (rs BulkResults) Err() error {
	var result *multierror.Error
	for _, r := range rs {
		if r.Failed() {
			result = multierror.Append(result,
				fmt.Errorf("document %q: %s - %s", r.ID, r.Error, r.Reason))
		}
	}
	return result.ErrorOrNil()
}

// parseBulkResults normalizes the row array of a _bulk_docs response.
func parseBulkResults(v any) (BulkResults, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array report, got %T", v)
	}
	results := make(BulkResults, 0, len(rows))
	for _, rawRow := range rows {
		row, ok := rawRow.(map[string]any)
		if !ok {
			continue
		}
		res := BulkResult{}
		res.ID, _ = row["id"].(string)
		res.Rev, _ = row["rev"].(string)
		res.Error, _ = row["error"].(string)
		res.Reason, _ = row["reason"].(string)
		results = append(results, res)
	}
	return results, nil
}
