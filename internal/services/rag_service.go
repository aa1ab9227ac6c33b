package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aihub/rag-service/internal/config"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/kafka"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/metrics"
	"github.com/aihub/rag-service/internal/models"
	"github.com/aihub/rag-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const embedBatchSize = 32

// RawTextArchive 保存原始文本，用于重新分块
type RawTextArchive interface {
	Put(ctx context.Context, documentID, filename, text string) error
	Get(ctx context.Context, documentID string) (string, error)
	Delete(ctx context.Context, documentID string) error
}

// EventPublisher 发布文档生命周期事件
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.DocumentEvent) error
}

// Dependencies RAGService 的协作者，Archive / Events / Metrics 可以为空
type Dependencies struct {
	Embedder     knowledge.Embedder
	Store        knowledge.VectorStore
	Generator    Generator
	Documents    repository.DocumentRepository
	Archive      RawTextArchive
	Events       EventPublisher
	Sessions     *SessionStore
	Parsers      *knowledge.FileParserManager
	TokenCounter knowledge.TokenCounter
	Metrics      *metrics.Collector
	Logger       *zap.Logger
}

// IngestRequest 入库请求，DocumentID 为空时自动生成
type IngestRequest struct {
	DocumentID string
	Filename   string
	Content    string
}

// IngestResult 入库结果
type IngestResult struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// SearchRequest 检索请求，TopK 为 0 / MinScore 为 nil 时使用配置默认值
type SearchRequest struct {
	Query    string
	TopK     int
	MinScore *float64
	Filter   *knowledge.SearchFilter
}

// QueryRequest 问答请求
type QueryRequest struct {
	SearchRequest
	SessionID string
}

// QueryResponse 问答的流式结果
type QueryResponse struct {
	SessionID  string
	Retrieval  *knowledge.RetrievalResult
	Context    *knowledge.AssembledContext
	Generation *Generation
}

// ServiceStats 服务统计
type ServiceStats struct {
	Documents       int    `json:"documents"`
	Chunks          int    `json:"chunks"`
	Dimensions      int    `json:"dimensions"`
	EmbeddingModel  string `json:"embedding_model"`
	GenerationModel string `json:"generation_model"`
	StoreHealthy    bool   `json:"store_healthy"`
	EmbedderReady   bool   `json:"embedder_ready"`
}

// RAGService 入库、检索、问答的门面
type RAGService struct {
	cfg          config.RAGConfig
	chunker      *knowledge.Chunker
	embedder     knowledge.Embedder
	store        knowledge.VectorStore
	retriever    *knowledge.Retriever
	assembler    *knowledge.ContextAssembler
	orchestrator *GenerationOrchestrator
	generator    Generator
	documents    repository.DocumentRepository
	archive      RawTextArchive
	events       EventPublisher
	sessions     *SessionStore
	parsers      *knowledge.FileParserManager
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewRAGService 创建RAG服务
func NewRAGService(cfg config.RAGConfig, deps Dependencies) (*RAGService, error) {
	if deps.Embedder == nil || deps.Store == nil || deps.Generator == nil {
		return nil, apperrors.NewConfigurationError("embedder, vector store and generator are required")
	}
	chunker, err := knowledge.NewChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	if cfg.ContextTokenBudget <= 0 {
		return nil, apperrors.NewConfigurationError("context token budget must be positive, got %d", cfg.ContextTokenBudget)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	documents := deps.Documents
	if documents == nil {
		documents = repository.NewMemoryDocumentRepository()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionStore(nil, 0, logger)
	}
	parsers := deps.Parsers
	if parsers == nil {
		parsers = knowledge.NewFileParserManager()
	}

	return &RAGService{
		cfg:          cfg,
		chunker:      chunker,
		embedder:     deps.Embedder,
		store:        deps.Store,
		retriever:    knowledge.NewRetriever(deps.Embedder, deps.Store, cfg.MaxTopK, logger.Named("retriever")),
		assembler:    knowledge.NewContextAssembler(deps.TokenCounter),
		orchestrator: NewGenerationOrchestrator(deps.Generator, deps.Metrics, logger.Named("generation")),
		generator:    deps.Generator,
		documents:    documents,
		archive:      deps.Archive,
		events:       deps.Events,
		sessions:     sessions,
		parsers:      parsers,
		metrics:      deps.Metrics,
		logger:       logger,
	}, nil
}

// Config 当前RAG参数
func (s *RAGService) Config() config.RAGConfig { return s.cfg }

// Sessions 会话存储
func (s *RAGService) Sessions() *SessionStore { return s.sessions }

// Parsers 文件解析器
func (s *RAGService) Parsers() *knowledge.FileParserManager { return s.parsers }

// Ingest 分块 → 向量化 → 写入向量库，返回文档ID
func (s *RAGService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()
	result, err := s.ingest(ctx, req)
	chunks := 0
	if result != nil {
		chunks = result.Chunks
	}
	s.metrics.RecordIngest(chunks, time.Since(start), err)
	return result, err
}

func (s *RAGService) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return nil, apperrors.NewInvalidArgumentError("filename", "must not be empty")
	}
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		documentID = uuid.NewString()
	} else {
		// 文档入库后不可变，更新内容走 Reindex 或先删除
		existing, err := s.store.DocumentChunks(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, apperrors.NewConflictError("document", documentID)
		}
	}

	doc := knowledge.Document{
		ID:         documentID,
		Filename:   filename,
		RawText:    req.Content,
		IngestedAt: time.Now().UTC(),
	}

	record := &models.Document{
		DocumentID:     doc.ID,
		Filename:       doc.Filename,
		RawText:        doc.RawText,
		ContentHash:    knowledge.ContentHash(doc.RawText),
		EmbeddingModel: s.embedder.Model(),
		Status:         models.DocumentStatusProcessing,
		IngestedAt:     doc.IngestedAt,
	}
	if err := s.documents.Create(ctx, record); err != nil {
		return nil, apperrors.Translate(err)
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, doc.ID, doc.Filename, doc.RawText); err != nil {
			s.logger.Warn("archive raw text failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}

	chunks, err := s.indexDocument(ctx, doc)
	if err != nil {
		s.markFailed(ctx, doc.ID, err)
		return nil, err
	}

	if err := s.documents.UpdateStatus(ctx, doc.ID, models.DocumentStatusCompleted, chunks, ""); err != nil {
		s.logger.Warn("update document status failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	s.publish(ctx, kafka.EventDocumentIngested, doc.ID, doc.Filename, chunks)

	s.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", chunks))

	return &IngestResult{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Chunks:     chunks,
		IngestedAt: doc.IngestedAt,
	}, nil
}

// IngestFile 解析文件为纯文本后入库
func (s *RAGService) IngestFile(ctx context.Context, reader io.Reader, filename string) (*IngestResult, error) {
	text, err := s.parsers.ParseFile(reader, filename)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, IngestRequest{Filename: filename, Content: text})
}

// embedDocument 分块并计算向量，向量齐全之前不写入向量库
func (s *RAGService) embedDocument(ctx context.Context, doc knowledge.Document) ([]knowledge.VectorChunk, error) {
	chunks := knowledge.BuildChunks(doc, s.chunker.Split(doc.RawText))
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([]knowledge.VectorChunk, 0, len(chunks))
	for i := 0; i < len(chunks); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Text)
		}

		embeddings, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, c := range chunks[i:end] {
			vectors = append(vectors, knowledge.VectorChunk{
				Chunk:          c,
				Embedding:      embeddings[j],
				EmbeddingModel: s.embedder.Model(),
				IngestedAt:     doc.IngestedAt,
			})
		}
	}
	return vectors, nil
}

func (s *RAGService) indexDocument(ctx context.Context, doc knowledge.Document) (int, error) {
	vectors, err := s.embedDocument(ctx, doc)
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	if err := s.store.Upsert(ctx, vectors); err != nil {
		// 远端存储可能写入了部分分块
		if derr := s.store.DeleteDocument(ctx, doc.ID); derr != nil {
			s.logger.Warn("cleanup after failed upsert", zap.String("document_id", doc.ID), zap.Error(derr))
		}
		return 0, err
	}
	return len(vectors), nil
}

func (s *RAGService) markFailed(ctx context.Context, documentID string, cause error) {
	if err := s.documents.UpdateStatus(ctx, documentID, models.DocumentStatusFailed, 0, cause.Error()); err != nil {
		s.logger.Warn("update document status failed", zap.String("document_id", documentID), zap.Error(err))
	}
	s.logger.Error("document ingestion failed", zap.String("document_id", documentID), zap.Error(cause))
}

// Reindex 从归档的原始文本重新分块并向量化
func (s *RAGService) Reindex(ctx context.Context, documentID string) (*IngestResult, error) {
	record, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	raw := record.RawText
	if s.archive != nil {
		text, aerr := s.archive.Get(ctx, documentID)
		if aerr == nil {
			raw = text
		} else {
			s.logger.Warn("read archived raw text failed, using registry copy",
				zap.String("document_id", documentID), zap.Error(aerr))
		}
	}

	doc := knowledge.Document{
		ID:         record.DocumentID,
		Filename:   record.Filename,
		RawText:    raw,
		IngestedAt: time.Now().UTC(),
	}

	vectors, err := s.embedDocument(ctx, doc)
	if err != nil {
		s.markFailed(ctx, documentID, err)
		return nil, err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if len(vectors) > 0 {
		if err := s.store.Upsert(ctx, vectors); err != nil {
			s.markFailed(ctx, documentID, err)
			return nil, err
		}
	}

	if err := s.documents.UpdateStatus(ctx, documentID, models.DocumentStatusCompleted, len(vectors), ""); err != nil {
		s.logger.Warn("update document status failed", zap.String("document_id", documentID), zap.Error(err))
	}
	s.publish(ctx, kafka.EventDocumentReindexed, documentID, doc.Filename, len(vectors))

	return &IngestResult{
		DocumentID: documentID,
		Filename:   doc.Filename,
		Chunks:     len(vectors),
		IngestedAt: doc.IngestedAt,
	}, nil
}

// Delete 删除文档及其所有分块
func (s *RAGService) Delete(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return apperrors.NewInvalidArgumentError("document_id", "must not be empty")
	}

	filename := ""
	record, err := s.documents.GetByID(ctx, documentID)
	switch {
	case err == nil:
		filename = record.Filename
	case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
		// 登记表可能是进程内的，以向量库为准
		chunks, cerr := s.store.DocumentChunks(ctx, documentID)
		if cerr != nil {
			return cerr
		}
		if len(chunks) == 0 {
			return err
		}
		filename = chunks[0].Filename
	default:
		return apperrors.Translate(err)
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, documentID); err != nil {
		s.logger.Warn("delete document record failed", zap.String("document_id", documentID), zap.Error(err))
	}
	if s.archive != nil {
		if err := s.archive.Delete(ctx, documentID); err != nil {
			s.logger.Warn("delete archived raw text failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	s.publish(ctx, kafka.EventDocumentDeleted, documentID, filename, 0)

	s.logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

func (s *RAGService) retrieveRequest(req SearchRequest) knowledge.RetrieveRequest {
	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.TopKDefault
	}
	minScore := s.cfg.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	return knowledge.RetrieveRequest{
		Query:    req.Query,
		TopK:     topK,
		MinScore: minScore,
		Filter:   req.Filter,
	}
}

// Search 语义检索，不调用生成
func (s *RAGService) Search(ctx context.Context, req SearchRequest) (*knowledge.RetrievalResult, error) {
	start := time.Now()
	result, err := s.retriever.Retrieve(ctx, s.retrieveRequest(req))
	matches := 0
	if result != nil {
		matches = len(result.Matches)
	}
	s.metrics.RecordRetrieval("search", matches, time.Since(start), err)
	return result, err
}

// Query 检索 → 组装上下文 → 流式生成
// 参数或检索失败同步返回错误；生成阶段的错误体现在 Generation 的终态
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	retrieval, err := s.retriever.Retrieve(ctx, s.retrieveRequest(req.SearchRequest))
	matches := 0
	if retrieval != nil {
		matches = len(retrieval.Matches)
	}
	s.metrics.RecordRetrieval("query", matches, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	assembled, err := s.assembler.Assemble(retrieval, s.cfg.ContextTokenBudget)
	if err != nil {
		return nil, err
	}
	if assembled.Skipped > 0 {
		s.logger.Debug("chunks dropped by context budget",
			zap.Int("skipped", assembled.Skipped),
			zap.Int("budget", s.cfg.ContextTokenBudget))
	}

	generation := s.orchestrator.Generate(ctx, BuildPrompt(req.Query, assembled), assembled)

	if req.SessionID != "" {
		s.sessions.Append(req.SessionID, ConversationTurn{Role: RoleUser, Content: req.Query})
		go s.recordAnswer(req.SessionID, generation)
	}

	return &QueryResponse{
		SessionID:  req.SessionID,
		Retrieval:  retrieval,
		Context:    assembled,
		Generation: generation,
	}, nil
}

func (s *RAGService) recordAnswer(sessionID string, generation *Generation) {
	<-generation.Done()
	answer := generation.Result()
	if answer == nil {
		return
	}
	cited := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		cited = append(cited, c.ChunkID)
	}
	s.sessions.Append(sessionID, ConversationTurn{
		Role:          RoleAssistant,
		Content:       answer.Text,
		CitedChunkIDs: cited,
	})
}

// DocumentChunks 按 sequence_index 排序的文档分块
func (s *RAGService) DocumentChunks(ctx context.Context, documentID string) ([]knowledge.Chunk, error) {
	chunks, err := s.store.DocumentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		if _, rerr := s.documents.GetByID(ctx, documentID); rerr != nil {
			return nil, rerr
		}
	}
	return chunks, nil
}

// ListDocuments 分页列出已登记的文档
func (s *RAGService) ListDocuments(ctx context.Context, page, limit int) ([]models.Document, int, error) {
	docs, total, err := s.documents.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperrors.Translate(err)
	}
	return docs, total, nil
}

// Health 向量库探活
func (s *RAGService) Health(ctx context.Context) bool {
	healthy := s.store.Health(ctx)
	s.metrics.SetStoreHealth(healthy)
	return healthy
}

// Ready 向量库与embedding后端均可用
func (s *RAGService) Ready(ctx context.Context) bool {
	return s.Health(ctx) && s.embedder.Ready()
}

// Stats 文档数、分块数与模型信息
func (s *RAGService) Stats(ctx context.Context) (*ServiceStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &ServiceStats{
		Documents:       stats.Documents,
		Chunks:          stats.Chunks,
		Dimensions:      stats.Dimensions,
		EmbeddingModel:  s.embedder.Model(),
		GenerationModel: s.generator.Model(),
		StoreHealthy:    s.Health(ctx),
		EmbedderReady:   s.embedder.Ready(),
	}, nil
}

// WaitForReady 轮询直到向量库健康，超时返回 VectorStoreError
func (s *RAGService) WaitForReady(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.Health(ctx) {
			s.logger.Info("vector store is ready")
			return nil
		}
		s.logger.Info("waiting for vector store", zap.Duration("interval", interval))

		select {
		case <-ctx.Done():
			return apperrors.NewVectorStoreError(fmt.Sprintf("vector store not ready within %s", timeout), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close 释放向量库连接
func (s *RAGService) Close() error {
	return s.store.Close()
}

func (s *RAGService) publish(ctx context.Context, eventType, documentID, filename string, chunks int) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, kafka.DocumentEvent{
		Type:           eventType,
		DocumentID:     documentID,
		Filename:       filename,
		ChunkCount:     chunks,
		EmbeddingModel: s.embedder.Model(),
		Timestamp:      time.Now(),
	})
	if err != nil {
		s.logger.Warn("publish document event failed",
			zap.String("type", eventType),
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}
