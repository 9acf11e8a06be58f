package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minara-dev/minara/internal/store"
)

func TestCalibratedEfSearch(t *testing.T) {
	assert.Equal(t, 64, CalibratedEfSearch(256))
	assert.Equal(t, 96, CalibratedEfSearch(384))
	assert.Equal(t, 128, CalibratedEfSearch(768))
	assert.Equal(t, 192, CalibratedEfSearch(4096))
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	idx, err := New(Config{
		Path:          path,
		Dimensions:    4,
		VectorConfig:  store.VectorStoreConfig{Dimensions: 4},
		FlushInterval: time.Hour, // tests flush manually via Close
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndex_AddSearchDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	require.NoError(t, idx.Delete(ctx, []string{"a"}))
	assert.Equal(t, 1, idx.Stats().ValidIDs)
}

func TestIndex_CloseFlushesWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	idx, err := New(Config{
		Path:         path,
		Dimensions:   4,
		VectorConfig: store.VectorStoreConfig{Dimensions: 4},
	})
	require.NoError(t, err)

	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Close())
	assert.FileExists(t, path)
}

type fakeMetadataEmbeddings struct {
	store.MetadataStore
	embeddings map[string][]float32
}

func (f *fakeMetadataEmbeddings) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return f.embeddings, nil
}

func TestRebuildFromVectors(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"stale"}, [][]float32{{1, 1, 1, 1}}))

	metadata := &fakeMetadataEmbeddings{embeddings: map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0, 1, 0, 0},
	}}

	require.NoError(t, idx.RebuildFromVectors(ctx, metadata))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "b")
	assert.NotContains(t, ids, "stale")
}
