package couchdb

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveInBulkFlushesAtLimit(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()
	require.NoError(t, db.SetBulkLimit(3))

	for i := 0; i < 2; i++ {
		require.NoError(t, db.SaveInBulk(ctx,
			NewDocumentWithID(fmt.Sprintf("doc%d", i), map[string]any{"n": i})))
	}
	assert.Equal(t, 2, db.PendingBulkCount())

	// the third save reaches the limit and flushes synchronously
	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("doc2", map[string]any{"n": 2})))
	assert.Equal(t, 0, db.PendingBulkCount())

	docs, err := db.AllDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestSaveInBulkRejectsContentlessDocument(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("doc1", map[string]any{"a": 1})))
	err := db.SaveInBulk(ctx, NewDocumentWithID("doc2", nil))
	requireValidationError(t, err)
	assert.Equal(t, 1, db.PendingBulkCount(), "a rejected save must leave the buffer unchanged")
}

func TestFlushBulkReport(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("a", map[string]any{"n": 1})))
	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("b", map[string]any{"n": 2})))

	report, err := db.FlushBulk(ctx, false, true)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "a", report[0].ID)
	assert.Equal(t, "b", report[1].ID)
	for _, row := range report {
		assert.False(t, row.Failed())
		assert.NotEmpty(t, row.Rev)
	}
	assert.NoError(t, report.Err())
	assert.Equal(t, 0, db.PendingBulkCount())
}

func TestFlushBulkWithoutReport(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("a", map[string]any{"n": 1})))
	report, err := db.FlushBulk(ctx, false, false)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 0, db.PendingBulkCount())
}

func TestFlushBulkEmptyBuffer(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")

	report, err := db.FlushBulk(context.Background(), false, true)
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestFlushBulkReportsConflicts(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	created, err := db.CreateDocument(ctx, NewDocumentWithID("a", map[string]any{"n": 1}), false)
	require.NoError(t, err)

	// stale revision for "a", fresh insert for "b"
	require.NoError(t, db.SaveInBulk(ctx, &Document{
		ID: "a", Rev: "1-stale", Content: map[string]any{"n": 2},
	}))
	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("b", map[string]any{"n": 3})))

	report, err := db.FlushBulk(ctx, false, true)
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.True(t, report[0].Failed())
	assert.Equal(t, "conflict", report[0].Error)
	assert.False(t, report[1].Failed())
	assert.Error(t, report.Err())

	// the conflicting write left the stored document untouched
	got, err := db.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, created.Rev, got.Rev)
}

func TestDeleteInBulk(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	created, err := db.CreateDocument(ctx, NewDocumentWithID("a", map[string]any{"n": 1}), false)
	require.NoError(t, err)

	require.NoError(t, db.DeleteInBulk(ctx, &Document{ID: "a", Rev: created.Rev}))
	_, err = db.FlushBulk(ctx, false, false)
	require.NoError(t, err)

	doc, err := db.GetDocumentOrNil(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestDeleteInBulkRejectsNonObjectContent(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")

	err := db.DeleteInBulk(context.Background(), &Document{
		ID: "a", Rev: "1-abc", Content: []any{"not", "an", "object"},
	})
	requireValidationError(t, err)
	assert.Equal(t, 0, db.PendingBulkCount(), "a rejected delete must leave the buffer unchanged")
}

func TestFlushBulkUpdatesExistingDocuments(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	created, err := db.CreateDocument(ctx, NewDocumentWithID("a", map[string]any{"n": 1}), false)
	require.NoError(t, err)

	require.NoError(t, db.SaveInBulk(ctx, &Document{
		ID: "a", Rev: created.Rev, Content: map[string]any{"n": float64(2)},
	}))
	report, err := db.FlushBulk(ctx, false, true)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.NotEqual(t, created.Rev, report[0].Rev)

	got, err := db.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Content.(map[string]any)["n"])
}

func TestSetBulkLimitValidation(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")

	requireValidationError(t, db.SetBulkLimit(0))
	require.NoError(t, db.SetBulkLimit(10))
	assert.Equal(t, 10, db.BulkLimit())
}

func TestClearBulk(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()

	require.NoError(t, db.SaveInBulk(ctx, NewDocumentWithID("a", map[string]any{"n": 1})))
	db.ClearBulk()
	assert.Equal(t, 0, db.PendingBulkCount())

	docs, err := db.AllDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSaveInBulkConcurrent(t *testing.T) {
	_, db := newTestDatabase(t, "bulk_db")
	ctx := context.Background()
	require.NoError(t, db.SetBulkLimit(7))

	const workers = 8
	const docsPerWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < docsPerWorker; i++ {
				id := fmt.Sprintf("w%d-doc%d", w, i)
				if err := db.SaveInBulk(ctx, NewDocumentWithID(id, map[string]any{"w": w})); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	_, err := db.FlushBulk(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, 0, db.PendingBulkCount())

	docs, err := db.AllDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, workers*docsPerWorker)
}
