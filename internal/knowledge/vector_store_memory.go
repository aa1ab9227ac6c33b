package knowledge

import (
	"context"
	"sync"

	apperrors "github.com/aihub/rag-service/internal/errors"
)

type memoryEntry struct {
	chunk     Chunk
	embedding []float32
	norm      float64
}

// memoryDocument 文档快照，写入时整体替换，读者只会看到完整快照
type memoryDocument struct {
	order   int64
	entries map[string]memoryEntry
}

// MemoryVectorStore 进程内向量存储
type MemoryVectorStore struct {
	mu         sync.RWMutex
	documents  map[string]*memoryDocument
	dimensions int
	model      string
	nextOrder  int64
	closed     bool
}

// NewMemoryVectorStore 创建内存向量存储，dimensions 为0时由首次写入决定
func NewMemoryVectorStore(dimensions int, model string) *MemoryVectorStore {
	return &MemoryVectorStore{
		documents:  make(map[string]*memoryDocument),
		dimensions: dimensions,
		model:      model,
	}
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.NewVectorStoreError("memory store is closed", nil)
	}

	dims, model := s.dimensions, s.model
	if dims == 0 {
		dims = len(chunks[0].Embedding)
	}
	if model == "" {
		model = chunks[0].EmbeddingModel
	}
	if err := validateBatch(chunks, dims, model); err != nil {
		return err
	}
	s.dimensions, s.model = dims, model

	// 按文档分组，每个文档构建新快照后整体替换
	grouped := make(map[string][]VectorChunk)
	var docOrder []string
	for _, c := range chunks {
		if _, ok := grouped[c.DocumentID]; !ok {
			docOrder = append(docOrder, c.DocumentID)
		}
		grouped[c.DocumentID] = append(grouped[c.DocumentID], c)
	}

	for _, docID := range docOrder {
		prev := s.documents[docID]
		next := &memoryDocument{entries: make(map[string]memoryEntry)}
		if prev != nil {
			next.order = prev.order
			for id, e := range prev.entries {
				next.entries[id] = e
			}
		} else {
			s.nextOrder++
			next.order = s.nextOrder
		}

		for _, c := range grouped[docID] {
			embedding := make([]float32, len(c.Embedding))
			copy(embedding, c.Embedding)
			next.entries[c.ID] = memoryEntry{
				chunk:     c.Chunk,
				embedding: embedding,
				norm:      vectorNorm(embedding),
			}
		}
		s.documents[docID] = next
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	s.mu.RLock()
	dims := s.dimensions
	snapshot := make([]*memoryDocument, 0, len(s.documents))
	for _, doc := range s.documents {
		snapshot = append(snapshot, doc)
	}
	s.mu.RUnlock()

	if dims > 0 && len(req.QueryEmbedding) != dims {
		return nil, apperrors.NewConfigurationError(
			"query embedding has %d dimensions, index uses %d", len(req.QueryEmbedding), dims)
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	var candidates []rankedMatch
	for _, doc := range snapshot {
		for _, e := range doc.entries {
			candidates = append(candidates, rankedMatch{
				match: SearchMatch{
					Chunk: e.chunk,
					Score: cosineSimilarity(req.QueryEmbedding, queryNorm, e.embedding, e.norm),
				},
				docOrder: doc.order,
			})
		}
	}

	return rankMatches(candidates, req.MinScore, req.Filter, req.TopK), nil
}

func (s *MemoryVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, documentID)
	return nil
}

func (s *MemoryVectorStore) DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	doc := s.documents[documentID]
	s.mu.RUnlock()

	if doc == nil {
		return []Chunk{}, nil
	}
	chunks := make([]Chunk, 0, len(doc.entries))
	for _, e := range doc.entries {
		chunks = append(chunks, e.chunk)
	}
	sortChunks(chunks)
	return chunks, nil
}

func (s *MemoryVectorStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		Documents:      len(s.documents),
		Dimensions:     s.dimensions,
		EmbeddingModel: s.model,
	}
	for _, doc := range s.documents {
		stats.Chunks += len(doc.entries)
	}
	return stats, nil
}

func (s *MemoryVectorStore) Health(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *MemoryVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
