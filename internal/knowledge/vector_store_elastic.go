package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

const esMaxChunksPerDocument = 10000

// ElasticsearchOptions ES向量存储配置
type ElasticsearchOptions struct {
	Addresses      []string
	Username       string
	Password       string
	APIKey         string
	Index          string
	Dimensions     int
	EmbeddingModel string
	Transport      http.RoundTripper
}

// ElasticsearchVectorStore 基于ES dense_vector 的向量存储
type ElasticsearchVectorStore struct {
	client     *elasticsearch.Client
	index      string
	dimensions int
	model      string
	logger     *zap.Logger

	mu    sync.Mutex
	ready bool
}

// esDocument ES中存储的分块文档
type esDocument struct {
	ChunkID        string    `json:"chunk_id"`
	DocumentID     string    `json:"document_id"`
	Filename       string    `json:"filename"`
	SequenceIndex  int       `json:"sequence_index"`
	StartOffset    int       `json:"start_offset"`
	EndOffset      int       `json:"end_offset"`
	IngestedAt     int64     `json:"ingested_at"`
	EmbeddingModel string    `json:"embedding_model"`
	Content        string    `json:"content"`
	Vector         []float32 `json:"vector,omitempty"`
}

func (d esDocument) toChunk() Chunk {
	return Chunk{
		ID:            d.ChunkID,
		DocumentID:    d.DocumentID,
		Filename:      d.Filename,
		SequenceIndex: d.SequenceIndex,
		Text:          d.Content,
		StartOffset:   d.StartOffset,
		EndOffset:     d.EndOffset,
	}
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Score  float64    `json:"_score"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewElasticsearchVectorStore 创建ES向量存储
func NewElasticsearchVectorStore(opts ElasticsearchOptions, logger *zap.Logger) (*ElasticsearchVectorStore, error) {
	if len(opts.Addresses) == 0 {
		return nil, apperrors.NewConfigurationError("elasticsearch addresses are required")
	}
	if opts.Dimensions <= 0 {
		return nil, apperrors.NewConfigurationError("elasticsearch vector dimensions must be positive, got %d", opts.Dimensions)
	}
	if opts.Index == "" {
		opts.Index = "personal_documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
		Transport: opts.Transport,
	})
	if err != nil {
		return nil, apperrors.NewVectorStoreError("failed to create elasticsearch client", err)
	}

	return &ElasticsearchVectorStore{
		client:     client,
		index:      opts.Index,
		dimensions: opts.Dimensions,
		model:      opts.EmbeddingModel,
		logger:     logger,
	}, nil
}

// ensureIndex 索引不存在时创建；已存在时校验维度和模型
func (s *ElasticsearchVectorStore) ensureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	existsResp, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to check index", err)
	}
	existsResp.Body.Close()

	if existsResp.StatusCode == http.StatusOK {
		if err := s.verifyIndex(ctx); err != nil {
			return err
		}
		s.ready = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"_meta": map[string]interface{}{"embedding_model": s.model},
			"properties": map[string]interface{}{
				"chunk_id":        map[string]interface{}{"type": "keyword"},
				"document_id":     map[string]interface{}{"type": "keyword"},
				"filename":        map[string]interface{}{"type": "keyword"},
				"sequence_index":  map[string]interface{}{"type": "integer"},
				"start_offset":    map[string]interface{}{"type": "integer"},
				"end_offset":      map[string]interface{}{"type": "integer"},
				"ingested_at":     map[string]interface{}{"type": "long"},
				"embedding_model": map[string]interface{}{"type": "keyword"},
				"content":         map[string]interface{}{"type": "text"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       s.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createResp, err := esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to create index", err)
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return apperrors.NewVectorStoreError(fmt.Sprintf("create index error: %s", createResp.String()), nil)
	}

	s.logger.Info("elasticsearch index created", zap.String("index", s.index), zap.Int("dimensions", s.dimensions))
	s.ready = true
	return nil
}

func (s *ElasticsearchVectorStore) verifyIndex(ctx context.Context) error {
	resp, err := esapi.IndicesGetMappingRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to read index mapping", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return apperrors.NewVectorStoreError(fmt.Sprintf("get mapping error: %s", resp.String()), nil)
	}

	var mappings map[string]struct {
		Mappings struct {
			Meta struct {
				EmbeddingModel string `json:"embedding_model"`
			} `json:"_meta"`
			Properties struct {
				Vector struct {
					Dims int `json:"dims"`
				} `json:"vector"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mappings); err != nil {
		return apperrors.NewVectorStoreError("malformed mapping response", err)
	}

	for _, m := range mappings {
		if dims := m.Mappings.Properties.Vector.Dims; dims != 0 && dims != s.dimensions {
			return apperrors.NewConfigurationError("index %s has dimension %d, configured %d", s.index, dims, s.dimensions)
		}
		if model := m.Mappings.Meta.EmbeddingModel; model != "" && s.model != "" && model != s.model {
			return apperrors.NewConfigurationError("index %s was built with %s, configured model is %s", s.index, model, s.model)
		}
	}
	return nil
}

func (s *ElasticsearchVectorStore) Upsert(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateBatch(chunks, s.dimensions, s.model); err != nil {
		return err
	}
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": s.index, "_id": c.ID},
		}
		if err := enc.Encode(action); err != nil {
			return apperrors.NewVectorStoreError("failed to encode bulk action", err)
		}
		doc := esDocument{
			ChunkID:        c.ID,
			DocumentID:     c.DocumentID,
			Filename:       c.Filename,
			SequenceIndex:  c.SequenceIndex,
			StartOffset:    c.StartOffset,
			EndOffset:      c.EndOffset,
			IngestedAt:     c.IngestedAt.UnixNano(),
			EmbeddingModel: c.EmbeddingModel,
			Content:        c.Text,
			Vector:         c.Embedding,
		}
		if err := enc.Encode(doc); err != nil {
			return apperrors.NewVectorStoreError("failed to encode chunk", err)
		}
	}

	resp, err := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "wait_for",
	}.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewVectorStoreError("elasticsearch bulk request failed", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.NewVectorStoreError(fmt.Sprintf("bulk error: %s", resp.String()), nil)
	}

	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulk); err != nil {
		return apperrors.NewVectorStoreError("malformed bulk response", err)
	}
	if bulk.Errors {
		for _, item := range bulk.Items {
			for _, result := range item {
				if result.Status >= 300 {
					return apperrors.NewVectorStoreError(
						fmt.Sprintf("failed to index chunk %s: %s", result.ID, result.Error.Reason), nil)
				}
			}
		}
	}
	return nil
}

func (s *ElasticsearchVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	body, _ := json.Marshal(query)
	refresh := true
	resp, err := esapi.DeleteByQueryRequest{
		Index:   []string{s.index},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewVectorStoreError("elasticsearch delete failed", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.NewVectorStoreError(fmt.Sprintf("delete document error: %s", resp.String()), nil)
	}
	return nil
}

// esFilterClauses 过滤条件转为 term 查询
func esFilterClauses(filter *SearchFilter) []interface{} {
	clauses := []interface{}{}
	if filter == nil {
		return clauses
	}
	if filter.DocumentID != "" {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"document_id": filter.DocumentID},
		})
	}
	if filter.Filename != "" {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"filename": filter.Filename},
		})
	}
	return clauses
}

func (s *ElasticsearchVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) != s.dimensions {
		return nil, apperrors.NewConfigurationError(
			"query embedding has %d dimensions, index uses %d", len(req.QueryEmbedding), s.dimensions)
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	candidateLimit := topK * 4
	if candidateLimit < topK+16 {
		candidateLimit = topK + 16
	}

	// script_score 的分数必须非负，余弦值整体加1，返回时再减去
	body := map[string]interface{}{
		"size":      candidateLimit,
		"min_score": req.MinScore + 1.0,
		"_source":   map[string]interface{}{"excludes": []string{"vector"}},
		"query": map[string]interface{}{
			"script_score": map[string]interface{}{
				"query": map[string]interface{}{
					"bool": map[string]interface{}{"filter": esFilterClauses(req.Filter)},
				},
				"script": map[string]interface{}{
					"source": "cosineSimilarity(params.query_vector, 'vector') + 1.0",
					"params": map[string]interface{}{"query_vector": req.QueryEmbedding},
				},
			},
		},
	}

	result, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}

	candidates := make([]rankedMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		candidates = append(candidates, rankedMatch{
			match: SearchMatch{
				Chunk: hit.Source.toChunk(),
				Score: hit.Score - 1.0,
			},
			docOrder: hit.Source.IngestedAt,
		})
	}
	return rankMatches(candidates, req.MinScore, req.Filter, topK), nil
}

func (s *ElasticsearchVectorStore) DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"size":    esMaxChunksPerDocument,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
		"sort": []interface{}{
			map[string]interface{}{"sequence_index": "asc"},
		},
	}

	result, err := s.search(ctx, body)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		chunks = append(chunks, hit.Source.toChunk())
	}
	sortChunks(chunks)
	return chunks, nil
}

func (s *ElasticsearchVectorStore) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{Dimensions: s.dimensions, EmbeddingModel: s.model}
	if err := s.ensureIndex(ctx); err != nil {
		return stats, err
	}

	body := map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]interface{}{
			"documents": map[string]interface{}{
				"cardinality": map[string]interface{}{"field": "document_id"},
			},
		},
	}
	payload, _ := json.Marshal(body)
	resp, err := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(payload),
	}.Do(ctx, s.client)
	if err != nil {
		return stats, apperrors.NewVectorStoreError("elasticsearch stats failed", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return stats, apperrors.NewVectorStoreError(fmt.Sprintf("stats error: %s", resp.String()), nil)
	}

	var result struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			Documents struct {
				Value int `json:"value"`
			} `json:"documents"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stats, apperrors.NewVectorStoreError("malformed stats response", err)
	}
	stats.Chunks = result.Hits.Total.Value
	stats.Documents = result.Aggregations.Documents.Value
	return stats, nil
}

func (s *ElasticsearchVectorStore) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := esapi.ClusterHealthRequest{}.Do(ctx, s.client)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "green" || health.Status == "yellow"
}

func (s *ElasticsearchVectorStore) Close() error {
	return nil
}

func (s *ElasticsearchVectorStore) search(ctx context.Context, body map[string]interface{}) (*esSearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewVectorStoreError("failed to encode search request", err)
	}
	resp, err := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(payload),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, apperrors.NewVectorStoreError("elasticsearch search failed", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, apperrors.NewVectorStoreError(fmt.Sprintf("search error: %s", resp.String()), nil)
	}

	var result esSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewVectorStoreError("malformed search response", err)
	}
	return &result, nil
}
