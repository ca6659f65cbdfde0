package couchdb

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseJSON(t *testing.T, body string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestParseDocumentsRowPrecedence(t *testing.T) {
	// Mixed rows from a keyed fetch with include_docs: one full document, one
	// deleted key and one bare stub. The deleted row is dropped; the others
	// keep their order.
	body := `{
		"total_rows": 3,
		"rows": [
			{"id": "1", "key": "1", "doc": {"_id": "1", "_rev": "1-aaa", "name": "first"}},
			{"id": "2", "key": "2", "error": "not_found"},
			{"id": "3", "key": "3", "value": {"rev": "3-ccc"}}
		]
	}`

	docs, err := parseDocuments(mustParseJSON(t, body))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, "1-aaa", docs[0].Rev)
	assert.Equal(t, "1", docs[0].Key)
	content, ok := docs[0].Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "first", content["name"])
	assert.NotContains(t, content, "_id")
	assert.NotContains(t, content, "_rev")

	assert.Equal(t, "3", docs[1].ID)
	assert.Equal(t, "3-ccc", docs[1].Rev)
}

func TestParseDocumentsValueRevFallback(t *testing.T) {
	body := `{
		"total_rows": 1,
		"rows": [
			{"id": "a", "key": "a", "value": {"_rev": "2-bbb", "score": 7}}
		]
	}`

	docs, err := parseDocuments(mustParseJSON(t, body))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2-bbb", docs[0].Rev)
	content := docs[0].Content.(map[string]any)
	assert.Equal(t, float64(7), content["score"])
	assert.NotContains(t, content, "_rev")
}

func TestParseDocumentsScalarValue(t *testing.T) {
	// Reduced views emit scalar values; they carry no revision.
	body := `{"rows": [{"key": null, "value": 42}]}`

	docs, err := parseDocuments(mustParseJSON(t, body))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].Rev)
	assert.Equal(t, float64(42), docs[0].Content)
}

func TestParseDocumentsRejectsMalformedRoot(t *testing.T) {
	_, err := parseDocuments(mustParseJSON(t, `[1, 2, 3]`))
	assert.Error(t, err)

	_, err = parseDocuments(mustParseJSON(t, `{"total_rows": 0}`))
	assert.Error(t, err)
}

func TestParseDocumentResult(t *testing.T) {
	doc, err := parseDocumentResult(mustParseJSON(t, `{"ok": true, "id": "doc1", "rev": "1-abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "1-abc", doc.Rev)
	content := doc.Content.(map[string]any)
	assert.Equal(t, true, content["ok"])
}

func TestParseDocumentResultBatchModeHasNoRev(t *testing.T) {
	doc, err := parseDocumentResult(mustParseJSON(t, `{"ok": true, "id": "doc1"}`))
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.ID)
	assert.False(t, doc.HasRev())
}

func TestParseDocumentResultRequiresID(t *testing.T) {
	_, err := parseDocumentResult(mustParseJSON(t, `{"ok": true}`))
	assert.Error(t, err)
}

func TestBuildDocumentFromJSONResponse(t *testing.T) {
	body := `{"_id": "doc1", "_rev": "2-def", "field1": "value1", "field2": 2}`

	doc, err := buildDocumentFromJSONResponse(mustParseJSON(t, body))
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "2-def", doc.Rev)
	content := doc.Content.(map[string]any)
	assert.Equal(t, "value1", content["field1"])
	assert.Equal(t, float64(2), content["field2"])
	assert.NotContains(t, content, "_id")
	assert.NotContains(t, content, "_rev")
}

func TestParseBulkResults(t *testing.T) {
	body := `[
		{"id": "a", "rev": "1-aaa"},
		{"id": "b", "error": "conflict", "reason": "Document update conflict."},
		{"id": "c", "rev": "1-ccc"}
	]`

	results, err := parseBulkResults(mustParseJSON(t, body))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Failed())
	assert.Equal(t, "1-aaa", results[0].Rev)

	assert.True(t, results[1].Failed())
	assert.Equal(t, "conflict", results[1].Error)
	assert.Equal(t, "Document update conflict.", results[1].Reason)

	err = results.Err()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), `document "b"`))
	assert.False(t, strings.Contains(err.Error(), `document "a"`))
}

func TestBulkResultsErrNilOnSuccess(t *testing.T) {
	results := BulkResults{{ID: "a", Rev: "1-aaa"}}
	assert.NoError(t, results.Err())
	assert.NoError(t, BulkResults{}.Err())
}
