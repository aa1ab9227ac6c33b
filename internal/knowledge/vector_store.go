package knowledge

import (
	"context"
	"math"
	"sort"

	apperrors "github.com/aihub/rag-service/internal/errors"
)

// VectorStore 向量存储抽象
// Upsert 按分块ID幂等；DeleteDocument 对读者而言要么全部可见要么全部消失
type VectorStore interface {
	Upsert(ctx context.Context, chunks []VectorChunk) error
	Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error)
	DeleteDocument(ctx context.Context, documentID string) error
	// DocumentChunks 按 sequence_index 升序返回文档的全部分块
	DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error)
	Stats(ctx context.Context) (StoreStats, error)
	Health(ctx context.Context) bool
	Close() error
}

// rankedMatch 排序用的候选结果
type rankedMatch struct {
	match    SearchMatch
	docOrder int64
}

// rankMatches 余弦分数降序；同分时 sequence_index 小者优先，再按文档入库顺序
// 先过滤再截断到 topK
func rankMatches(candidates []rankedMatch, minScore float64, filter *SearchFilter, topK int) []SearchMatch {
	kept := candidates[:0]
	for _, c := range candidates {
		if c.match.Score < minScore || !filter.Matches(c.match.Chunk) {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.match.Score != b.match.Score {
			return a.match.Score > b.match.Score
		}
		if a.match.Chunk.SequenceIndex != b.match.Chunk.SequenceIndex {
			return a.match.Chunk.SequenceIndex < b.match.Chunk.SequenceIndex
		}
		if a.docOrder != b.docOrder {
			return a.docOrder < b.docOrder
		}
		return a.match.Chunk.ID < b.match.Chunk.ID
	})

	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}

	matches := make([]SearchMatch, len(kept))
	for i, c := range kept {
		matches[i] = c.match
	}
	return matches
}

// sortChunks 按 sequence_index 升序
func sortChunks(chunks []Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].SequenceIndex < chunks[j].SequenceIndex
	})
}

// vectorNorm 计算L2范数
func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity 余弦相似度，零向量得分为0，结果限制在[-1,1]
func cosineSimilarity(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	score := dot / (aNorm * bNorm)
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// validateBatch 校验一批待写入分块的维度和模型
func validateBatch(chunks []VectorChunk, dims int, model string) error {
	for _, c := range chunks {
		if c.ID == "" || c.DocumentID == "" {
			return apperrors.NewInvalidArgumentError("chunk", "id and document_id are required")
		}
		if len(c.Embedding) == 0 {
			return apperrors.NewInvalidArgumentError("chunk", "chunk "+c.ID+" has no embedding")
		}
		if dims > 0 && len(c.Embedding) != dims {
			return apperrors.NewConfigurationError(
				"embedding dimension mismatch for chunk %s: got %d, index uses %d", c.ID, len(c.Embedding), dims)
		}
		if model != "" && c.EmbeddingModel != "" && c.EmbeddingModel != model {
			return apperrors.NewConfigurationError(
				"embedding model mismatch for chunk %s: got %s, index uses %s", c.ID, c.EmbeddingModel, model)
		}
	}
	return nil
}
