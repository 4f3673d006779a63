package qdrantstore

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestIndex creates an Index connected to a local address. The connection
// may succeed (gRPC lazy connects) even if no server is running, but actual
// RPCs will fail. Sufficient for testing construction and caching logic.
func newTestIndex(t *testing.T) *Index {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(nil, nil))
	idx, err := NewIndex(Config{
		URL:        "http://localhost:16334", // Non-standard port, no server running.
		Collection: "test_precedents",
		Dims:       1024,
	}, logger)
	require.NoError(t, err, "NewIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestNewIndex_Valid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))

	idx, err := NewIndex(Config{
		URL:        "http://localhost:6333",
		Collection: "eje_precedents",
		Dims:       1024,
	}, logger)

	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, "eje_precedents", idx.collection)
	assert.Equal(t, uint64(1024), idx.dims)
	assert.NotNil(t, idx.client)

	_ = idx.Close()
}

func TestNewIndex_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))

	_, err := NewIndex(Config{
		URL:        "",
		Collection: "eje_precedents",
		Dims:       1024,
	}, logger)

	require.Error(t, err)
}

func TestIndex_HealthyCachesResult(t *testing.T) {
	idx := newTestIndex(t)

	ctx := t.Context()
	err1 := idx.Healthy(ctx)
	require.Error(t, err1, "no Qdrant server is listening on the test port")

	// Within the 5-second cache window, a second call returns the same
	// cached error without issuing another RPC.
	err2 := idx.Healthy(ctx)
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestIndex_UpsertEmptyIsNoop(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Upsert(t.Context(), nil))
}

func TestIndex_DeleteByIDsEmptyIsNoop(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.DeleteByIDs(t.Context(), nil))
}
