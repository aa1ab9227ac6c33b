package knowledge

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Document 入库文档，入库后不可变
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	RawText    string    `json:"raw_text,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk 文档分块及其来源偏移
type Chunk struct {
	ID            string `json:"id"`
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
}

// VectorChunk 带向量的分块，向量在写入向量库之前计算
type VectorChunk struct {
	Chunk
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// SearchFilter 检索过滤条件，在 top_k 截断之前生效
type SearchFilter struct {
	DocumentID string `json:"document_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// Matches 判断分块是否满足过滤条件
func (f *SearchFilter) Matches(c Chunk) bool {
	if f == nil {
		return true
	}
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.Filename != "" && c.Filename != f.Filename {
		return false
	}
	return true
}

// SearchRequest 向量检索请求
type SearchRequest struct {
	QueryEmbedding []float32
	TopK           int
	MinScore       float64
	Filter         *SearchFilter
}

// SearchMatch 检索命中，Score 为余弦相似度
type SearchMatch struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult 按分数降序排列，长度不超过 top_k
type RetrievalResult struct {
	Query   string        `json:"query"`
	TopK    int           `json:"top_k"`
	Matches []SearchMatch `json:"matches"`
}

// Empty 是否没有任何命中
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Matches) == 0
}

// StoreStats 向量库统计
type StoreStats struct {
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model"`
}

// ChunkID 生成分块ID：文档ID + 序号 + 内容指纹
func ChunkID(documentID string, index int, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("%s_%d_%s", documentID, index, hex.EncodeToString(sum[:4]))
}

// ContentHash 文本的blake2b指纹
func ContentHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BuildChunks 将切分结果转换为文档分块
func BuildChunks(doc Document, spans []TextChunk) []Chunk {
	chunks := make([]Chunk, 0, len(spans))
	for _, span := range spans {
		chunks = append(chunks, Chunk{
			ID:            ChunkID(doc.ID, span.Index, span.Text),
			DocumentID:    doc.ID,
			Filename:      doc.Filename,
			SequenceIndex: span.Index,
			Text:          span.Text,
			StartOffset:   span.Start,
			EndOffset:     span.End,
		})
	}
	return chunks
}
