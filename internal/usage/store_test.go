package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddAndAggregate(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Add(&Record{
		RequestID: "r1", Provider: "openai", Model: "gpt-4o",
		FinishReason: "stream_end", Events: 10, Bytes: 512, ContentTokens: 120,
	}))
	require.NoError(t, store.Add(&Record{
		RequestID: "r2", Provider: "openai", Model: "gpt-4o",
		FinishReason: "error_in_stream", Events: 2, Bytes: 64, ContentTokens: 5,
	}))
	require.NoError(t, store.Add(&Record{
		RequestID: "r3", Provider: "google", Model: "gemini-2.5-flash",
		FinishReason: "stream_end", Events: 4, Bytes: 128, ContentTokens: 40,
	}))

	stats, err := store.StatsByModel(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "gpt-4o", stats[0].Model)
	assert.Equal(t, int64(2), stats[0].RequestCount)
	assert.Equal(t, int64(125), stats[0].ContentTokens)
	assert.Equal(t, int64(1), stats[0].ErrorCount)

	assert.Equal(t, "gemini-2.5-flash", stats[1].Model)
	assert.Equal(t, int64(0), stats[1].ErrorCount)
}

func TestAdd_FillsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	rec := &Record{RequestID: "r1", Provider: "p", Model: "m", FinishReason: "stream_end"}
	require.NoError(t, store.Add(rec))
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestAdd_NilRecord(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Add(nil))
}

func TestStatsByModel_SinceFilter(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(&Record{
		RequestID: "old", Provider: "p", Model: "m", FinishReason: "stream_end",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))

	stats, err := store.StatsByModel(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	n := EstimateTokens("The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 20)
}
