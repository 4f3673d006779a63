package sqlitestore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/model"
	"github.com/eje-systems/eje/internal/precedent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_StoreAndGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := precedent.Record{
		CaseHash:  "hash-1",
		InputText: "employee requested unpaid leave for a family emergency",
		Context:   map[string]any{"department": "ops"},
		Verdict:   model.VerdictAllow,
	}

	id, err := s.Store(ctx, rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.CaseHash, got.CaseHash)
	assert.Equal(t, rec.InputText, got.InputText)
	assert.Equal(t, rec.Verdict, got.Verdict)
	assert.Equal(t, "ops", got.Context["department"])
}

func TestStore_StoreIsIdempotentOnCaseHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := precedent.Record{CaseHash: "dup-hash", InputText: "first", Verdict: model.VerdictDeny}
	first, err := s.Store(ctx, rec)
	require.NoError(t, err)

	rec.InputText = "second attempt with same hash"
	second, err := s.Store(ctx, rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	stored, err := s.GetByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.InputText)
}

func TestStore_GetByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SearchSimilarRanksByTokenOverlap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, precedent.Record{
		CaseHash:  "close",
		InputText: "employee requested unpaid leave for a family emergency",
		Verdict:   model.VerdictAllow,
	})
	require.NoError(t, err)

	_, err = s.Store(ctx, precedent.Record{
		CaseHash:  "far",
		InputText: "vendor invoice dispute over shipping costs",
		Verdict:   model.VerdictDeny,
	})
	require.NoError(t, err)

	results, err := s.SearchSimilar(ctx, precedent.Query{
		Text:  "employee requesting unpaid leave for family emergency",
		Limit: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "close", results[0].Record.CaseHash)
}

func TestStore_SearchSimilarAppliesMinSimilarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, precedent.Record{
		CaseHash:  "unrelated",
		InputText: "vendor invoice dispute over shipping costs",
		Verdict:   model.VerdictDeny,
	})
	require.NoError(t, err)

	results, err := s.SearchSimilar(ctx, precedent.Query{
		Text:          "completely different employee leave scenario",
		MinSimilarity: 0.9,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_SearchSimilarFiltersOnContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, precedent.Record{
		CaseHash:  "ops-case",
		InputText: "shared phrase about request handling",
		Context:   map[string]any{"department": "ops"},
		Verdict:   model.VerdictAllow,
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, precedent.Record{
		CaseHash:  "eng-case",
		InputText: "shared phrase about request handling",
		Context:   map[string]any{"department": "eng"},
		Verdict:   model.VerdictDeny,
	})
	require.NoError(t, err)

	results, err := s.SearchSimilar(ctx, precedent.Query{
		Text:    "shared phrase about request handling",
		Filters: map[string]any{"department": "eng"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "eng-case", results[0].Record.CaseHash)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, precedent.Record{CaseHash: "to-delete", InputText: "x", Verdict: model.VerdictReview})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
