package knowledge

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"go.uber.org/zap"
)

// RetrieveRequest 检索参数
type RetrieveRequest struct {
	Query    string
	TopK     int
	MinScore float64
	Filter   *SearchFilter
}

// Retriever 查询向量化后在向量库中检索
type Retriever struct {
	embedder Embedder
	store    VectorStore
	maxTopK  int
	logger   *zap.Logger
}

// NewRetriever 创建检索器，maxTopK 为 top_k 的上限
func NewRetriever(embedder Embedder, store VectorStore, maxTopK int, logger *zap.Logger) *Retriever {
	if maxTopK <= 0 {
		maxTopK = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		maxTopK:  maxTopK,
		logger:   logger,
	}
}

// MaxTopK top_k 上限
func (r *Retriever) MaxTopK() int { return r.maxTopK }

// Validate 在调用任何后端之前校验参数
func (r *Retriever) Validate(req RetrieveRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return apperrors.NewInvalidArgumentError("query", "must not be empty")
	}
	if req.TopK < 1 || req.TopK > r.maxTopK {
		return apperrors.NewInvalidArgumentError("top_k", fmt.Sprintf("must be within [1, %d], got %d", r.maxTopK, req.TopK))
	}
	if req.MinScore < -1 || req.MinScore > 1 {
		return apperrors.NewInvalidArgumentError("min_score", fmt.Sprintf("must be within [-1, 1], got %g", req.MinScore))
	}
	return nil
}

// Retrieve 向量化查询 → 检索 → 过滤低于 min_score 的结果
// 没有结果时返回空结果而不是错误
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrievalResult, error) {
	if err := r.Validate(req); err != nil {
		return nil, err
	}

	queryEmbedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Search(ctx, SearchRequest{
		QueryEmbedding: queryEmbedding,
		TopK:           req.TopK,
		MinScore:       req.MinScore,
		Filter:         req.Filter,
	})
	if err != nil {
		return nil, err
	}

	// 后端可能返回低于阈值或超出 top_k 的结果，这里统一按 先过滤后截断 处理
	kept := make([]SearchMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score < req.MinScore || !req.Filter.Matches(m.Chunk) {
			continue
		}
		kept = append(kept, m)
		if len(kept) == req.TopK {
			break
		}
	}

	r.logger.Debug("retrieval completed",
		zap.Int("top_k", req.TopK),
		zap.Float64("min_score", req.MinScore),
		zap.Int("candidates", len(matches)),
		zap.Int("returned", len(kept)))

	return &RetrievalResult{
		Query:   req.Query,
		TopK:    req.TopK,
		Matches: kept,
	}, nil
}
