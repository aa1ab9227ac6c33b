package knowledge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorChunk(docID string, seq int, text string, embedding ...float32) VectorChunk {
	return VectorChunk{
		Chunk: Chunk{
			ID:            ChunkID(docID, seq, text),
			DocumentID:    docID,
			Filename:      docID + ".txt",
			SequenceIndex: seq,
			Text:          text,
		},
		Embedding:      embedding,
		EmbeddingModel: "test-model",
		IngestedAt:     time.Now(),
	}
}

func TestMemoryVectorStore_ExactMatchScoresOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3, "test-model")

	require.NoError(t, store.Upsert(ctx, []VectorChunk{
		vectorChunk("doc-a", 0, "near", 0.9, 0.1, 0),
		vectorChunk("doc-a", 1, "exact", 0.2, 0.5, 0.7),
		vectorChunk("doc-b", 0, "far", -1, 0, 0),
	}))

	matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{0.2, 0.5, 0.7}, TopK: 3, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "exact", matches[0].Chunk.Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.GreaterOrEqual(t, matches[1].Score, matches[2].Score)
}

func TestMemoryVectorStore_TieBreaking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2, "test-model")

	// 相同向量：先按 sequence_index，再按文档入库顺序
	require.NoError(t, store.Upsert(ctx, []VectorChunk{vectorChunk("first", 1, "f1", 1, 0)}))
	require.NoError(t, store.Upsert(ctx, []VectorChunk{vectorChunk("second", 0, "s0", 1, 0)}))
	require.NoError(t, store.Upsert(ctx, []VectorChunk{vectorChunk("third", 1, "t1", 1, 0)}))

	matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "s0", matches[0].Chunk.Text)
	assert.Equal(t, "f1", matches[1].Chunk.Text)
	assert.Equal(t, "t1", matches[2].Chunk.Text)
}

func TestMemoryVectorStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2, "test-model")
	chunks := []VectorChunk{
		vectorChunk("doc", 0, "alpha", 1, 0),
		vectorChunk("doc", 1, "beta", 0, 1),
	}

	require.NoError(t, store.Upsert(ctx, chunks))
	once, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 1}, TopK: 5})
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, chunks))
	twice, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 1}, TopK: 5})
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
}

func TestMemoryVectorStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2, "test-model")
	require.NoError(t, store.Upsert(ctx, []VectorChunk{
		vectorChunk("keep", 0, "keep me", 1, 0),
		vectorChunk("drop", 0, "drop me", 1, 0),
		vectorChunk("drop", 1, "drop me too", 0.9, 0.1),
	}))

	require.NoError(t, store.DeleteDocument(ctx, "drop"))

	matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 0}, TopK: 10, MinScore: -1})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "drop", m.Chunk.DocumentID)
	}
	chunks, err := store.DocumentChunks(ctx, "drop")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// 删除不存在的文档不是错误
	assert.NoError(t, store.DeleteDocument(ctx, "missing"))
}

func TestMemoryVectorStore_FilterBeforeLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2, "test-model")
	require.NoError(t, store.Upsert(ctx, []VectorChunk{
		vectorChunk("a", 0, "a0", 1, 0),
		vectorChunk("a", 1, "a1", 0.99, 0.01),
		vectorChunk("b", 0, "b0", 0.5, 0.5),
	}))

	matches, err := store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{1, 0},
		TopK:           1,
		Filter:         &SearchFilter{Filename: "b.txt"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b0", matches[0].Chunk.Text)

	matches, err = store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 0}, TopK: 10, MinScore: 0.95})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryVectorStore_DimensionAndModelMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3, "test-model")

	err := store.Upsert(ctx, []VectorChunk{vectorChunk("doc", 0, "short", 1, 0)})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))

	other := vectorChunk("doc", 0, "other", 1, 0, 0)
	other.EmbeddingModel = "another-model"
	err = store.Upsert(ctx, []VectorChunk{other})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))

	_, err = store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 0}, TopK: 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
}

func TestMemoryVectorStore_DocumentChunksOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(0, "")
	require.NoError(t, store.Upsert(ctx, []VectorChunk{
		vectorChunk("doc", 2, "c", 0, 1),
		vectorChunk("doc", 0, "a", 1, 0),
		vectorChunk("doc", 1, "b", 1, 1),
	}))

	chunks, err := store.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.SequenceIndex)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dimensions)
	assert.Equal(t, "test-model", stats.EmbeddingModel)
}

func TestMemoryVectorStore_ConcurrentWritersAndReaders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2, "test-model")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc-%d", w)
			for i := 0; i < 20; i++ {
				_ = store.Upsert(ctx, []VectorChunk{
					vectorChunk(docID, 0, "zero", 1, 0),
					vectorChunk(docID, 1, "one", 0, 1),
				})
				if i%5 == 0 {
					_ = store.DeleteDocument(ctx, docID)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 1}, TopK: 20})
				if !assert.NoError(t, err) {
					return
				}
				// 每个文档要么两个分块都可见，要么都不可见
				perDoc := make(map[string]int)
				for _, m := range matches {
					perDoc[m.Chunk.DocumentID]++
				}
				for _, n := range perDoc {
					assert.Equal(t, 2, n)
				}
			}
		}()
	}
	wg.Wait()

	assert.True(t, store.Health(ctx))
	require.NoError(t, store.Close())
	assert.False(t, store.Health(ctx))
}
