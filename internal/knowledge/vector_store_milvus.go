package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const (
	milvusFieldChunkID    = "chunk_id"
	milvusFieldDocumentID = "document_id"
	milvusFieldFilename   = "filename"
	milvusFieldSeq        = "sequence_index"
	milvusFieldStart      = "start_offset"
	milvusFieldEnd        = "end_offset"
	milvusFieldIngestedAt = "ingested_at"
	milvusFieldContent    = "content"
	milvusFieldVector     = "vector"

	milvusQueryLimit = 16384
)

var milvusOutputFields = []string{
	milvusFieldChunkID, milvusFieldDocumentID, milvusFieldFilename, milvusFieldSeq,
	milvusFieldStart, milvusFieldEnd, milvusFieldIngestedAt, milvusFieldContent,
}

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address        string
	Username       string
	Password       string
	Database       string
	Collection     string
	UseTLS         bool
	Dimensions     int
	EmbeddingModel string
	Timeout        time.Duration
}

// MilvusVectorStore 基于Milvus的向量存储，使用COSINE度量
type MilvusVectorStore struct {
	milvusClient client.Client
	collection   string
	dimensions   int
	model        string
	logger       *zap.Logger
}

// NewMilvusVectorStore 创建Milvus向量存储并确保集合存在
func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions, logger *zap.Logger) (*MilvusVectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "personal_documents"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Dimensions <= 0 {
		return nil, apperrors.NewConfigurationError("milvus vector dimensions must be positive, got %d", opts.Dimensions)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	milvusClient, err := client.NewClient(connectCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.NewVectorStoreError("failed to create milvus client", err)
	}

	store := &MilvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		dimensions:   opts.Dimensions,
		model:        opts.EmbeddingModel,
		logger:       logger,
	}
	if err := store.ensureCollection(connectCtx); err != nil {
		_ = milvusClient.Close()
		return nil, err
	}
	return store, nil
}

func (s *MilvusVectorStore) collectionDescription() string {
	return "embedding_model=" + s.model
}

func (s *MilvusVectorStore) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to check collection", err)
	}

	if hasCollection {
		return s.verifyCollection(ctx)
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    s.collectionDescription(),
		Fields: []*entity.Field{
			{
				Name:       milvusFieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{Name: milvusFieldDocumentID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: milvusFieldFilename, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "1024"}},
			{Name: milvusFieldSeq, DataType: entity.FieldTypeInt64},
			{Name: milvusFieldStart, DataType: entity.FieldTypeInt64},
			{Name: milvusFieldEnd, DataType: entity.FieldTypeInt64},
			{Name: milvusFieldIngestedAt, DataType: entity.FieldTypeInt64},
			{Name: milvusFieldContent, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
			{
				Name:     milvusFieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(s.dimensions),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.NewVectorStoreError("failed to create collection", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to build index definition", err)
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, milvusFieldVector, index, false); err != nil {
		return apperrors.NewVectorStoreError("failed to create index", err)
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.NewVectorStoreError("failed to load collection", err)
	}

	s.logger.Info("milvus collection created",
		zap.String("collection", s.collection),
		zap.Int("dimensions", s.dimensions))
	return nil
}

// verifyCollection 已存在的集合必须与当前配置的维度和模型一致
func (s *MilvusVectorStore) verifyCollection(ctx context.Context) error {
	coll, err := s.milvusClient.DescribeCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewVectorStoreError("failed to describe collection", err)
	}
	if coll.Schema != nil {
		if s.model != "" && coll.Schema.Description != "" && coll.Schema.Description != s.collectionDescription() {
			return apperrors.NewConfigurationError("collection %s was built with %s, configured model is %s",
				s.collection, strings.TrimPrefix(coll.Schema.Description, "embedding_model="), s.model)
		}
		for _, field := range coll.Schema.Fields {
			if field.Name != milvusFieldVector {
				continue
			}
			if dim, err := strconv.Atoi(field.TypeParams["dim"]); err == nil && dim != s.dimensions {
				return apperrors.NewConfigurationError("collection %s has dimension %d, configured %d",
					s.collection, dim, s.dimensions)
			}
		}
	}
	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.NewVectorStoreError("failed to load collection", err)
	}
	return nil
}

func (s *MilvusVectorStore) Upsert(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateBatch(chunks, s.dimensions, s.model); err != nil {
		return err
	}

	n := len(chunks)
	ids := make([]string, n)
	docIDs := make([]string, n)
	filenames := make([]string, n)
	seqs := make([]int64, n)
	starts := make([]int64, n)
	ends := make([]int64, n)
	ingested := make([]int64, n)
	contents := make([]string, n)
	vectors := make([][]float32, n)
	for i, c := range chunks {
		ids[i] = c.ID
		docIDs[i] = c.DocumentID
		filenames[i] = c.Filename
		seqs[i] = int64(c.SequenceIndex)
		starts[i] = int64(c.StartOffset)
		ends[i] = int64(c.EndOffset)
		ingested[i] = c.IngestedAt.UnixNano()
		contents[i] = c.Text
		vectors[i] = c.Embedding
	}

	// 单次Upsert请求，按主键替换
	_, err := s.milvusClient.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldChunkID, ids),
		entity.NewColumnVarChar(milvusFieldDocumentID, docIDs),
		entity.NewColumnVarChar(milvusFieldFilename, filenames),
		entity.NewColumnInt64(milvusFieldSeq, seqs),
		entity.NewColumnInt64(milvusFieldStart, starts),
		entity.NewColumnInt64(milvusFieldEnd, ends),
		entity.NewColumnInt64(milvusFieldIngestedAt, ingested),
		entity.NewColumnVarChar(milvusFieldContent, contents),
		entity.NewColumnFloatVector(milvusFieldVector, s.dimensions, vectors),
	)
	if err != nil {
		return apperrors.NewVectorStoreError("milvus upsert failed", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush collection", zap.String("collection", s.collection), zap.Error(err))
	}
	return nil
}

func (s *MilvusVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	expr := milvusEqualsExpr(milvusFieldDocumentID, documentID)
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return apperrors.NewVectorStoreError("milvus delete failed", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush after delete", zap.Error(err))
	}
	return nil
}

// milvusEqualsExpr 字符串字段等值表达式，值按双引号字符串转义
func milvusEqualsExpr(field, value string) string {
	return fmt.Sprintf("%s == %s", field, strconv.Quote(value))
}

// milvusFilterExpr 将过滤条件转换为Milvus布尔表达式
func milvusFilterExpr(filter *SearchFilter) string {
	if filter == nil {
		return ""
	}
	var parts []string
	if filter.DocumentID != "" {
		parts = append(parts, milvusEqualsExpr(milvusFieldDocumentID, filter.DocumentID))
	}
	if filter.Filename != "" {
		parts = append(parts, milvusEqualsExpr(milvusFieldFilename, filter.Filename))
	}
	return strings.Join(parts, " && ")
}

func (s *MilvusVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) != s.dimensions {
		return nil, apperrors.NewConfigurationError(
			"query embedding has %d dimensions, index uses %d", len(req.QueryEmbedding), s.dimensions)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	// 多取一些候选，保证同分结果的排序稳定
	candidateLimit := topK * 4
	if candidateLimit < topK+16 {
		candidateLimit = topK + 16
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, apperrors.NewVectorStoreError("failed to build search params", err)
	}
	results, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		milvusFilterExpr(req.Filter),
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(req.QueryEmbedding)},
		milvusFieldVector,
		entity.COSINE,
		candidateLimit,
		sp,
	)
	if err != nil {
		return nil, apperrors.NewVectorStoreError("milvus search failed", err)
	}
	if len(results) == 0 {
		return []SearchMatch{}, nil
	}
	if results[0].Err != nil {
		return nil, apperrors.NewVectorStoreError("milvus search error", results[0].Err)
	}

	result := results[0]
	chunks, orders := readMilvusRows(result.Fields, result.ResultCount)
	candidates := make([]rankedMatch, 0, len(chunks))
	for i, chunk := range chunks {
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		candidates = append(candidates, rankedMatch{
			match:    SearchMatch{Chunk: chunk, Score: score},
			docOrder: orders[i],
		})
	}

	return rankMatches(candidates, req.MinScore, req.Filter, topK), nil
}

func (s *MilvusVectorStore) DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	expr := milvusEqualsExpr(milvusFieldDocumentID, documentID)
	rs, err := s.milvusClient.Query(ctx, s.collection, []string{}, expr, milvusOutputFields, client.WithLimit(milvusQueryLimit))
	if err != nil {
		return nil, apperrors.NewVectorStoreError("milvus query failed", err)
	}

	count := 0
	if col := rs.GetColumn(milvusFieldChunkID); col != nil {
		count = col.Len()
	}
	chunks, _ := readMilvusRows(rs, count)
	sortChunks(chunks)
	return chunks, nil
}

func (s *MilvusVectorStore) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{Dimensions: s.dimensions, EmbeddingModel: s.model}

	raw, err := s.milvusClient.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return stats, apperrors.NewVectorStoreError("failed to get collection statistics", err)
	}
	stats.Chunks, _ = strconv.Atoi(raw["row_count"])

	rs, err := s.milvusClient.Query(ctx, s.collection, []string{}, milvusFieldChunkID+` != ""`,
		[]string{milvusFieldDocumentID}, client.WithLimit(milvusQueryLimit))
	if err != nil {
		return stats, apperrors.NewVectorStoreError("milvus query failed", err)
	}
	if col, ok := rs.GetColumn(milvusFieldDocumentID).(*entity.ColumnVarChar); ok {
		seen := make(map[string]struct{})
		for _, id := range col.Data() {
			seen[id] = struct{}{}
		}
		stats.Documents = len(seen)
	}
	return stats, nil
}

func (s *MilvusVectorStore) Health(ctx context.Context) bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	// SDK v2 没有独立的ping接口，使用 ListCollections 检查连接
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

func (s *MilvusVectorStore) Close() error {
	if s.milvusClient == nil {
		return nil
	}
	return s.milvusClient.Close()
}

// readMilvusRows 从结果列中还原分块及其入库时间
func readMilvusRows(rs client.ResultSet, count int) ([]Chunk, []int64) {
	var (
		ids, docIDs, filenames, contents []string
		seqs, starts, ends, ingested     []int64
	)
	for _, col := range rs {
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			switch c.Name() {
			case milvusFieldChunkID:
				ids = c.Data()
			case milvusFieldDocumentID:
				docIDs = c.Data()
			case milvusFieldFilename:
				filenames = c.Data()
			case milvusFieldContent:
				contents = c.Data()
			}
		case *entity.ColumnInt64:
			switch c.Name() {
			case milvusFieldSeq:
				seqs = c.Data()
			case milvusFieldStart:
				starts = c.Data()
			case milvusFieldEnd:
				ends = c.Data()
			case milvusFieldIngestedAt:
				ingested = c.Data()
			}
		}
	}

	str := func(values []string, i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
	num := func(values []int64, i int) int64 {
		if i < len(values) {
			return values[i]
		}
		return 0
	}

	chunks := make([]Chunk, 0, count)
	orders := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		chunks = append(chunks, Chunk{
			ID:            str(ids, i),
			DocumentID:    str(docIDs, i),
			Filename:      str(filenames, i),
			SequenceIndex: int(num(seqs, i)),
			Text:          str(contents, i),
			StartOffset:   int(num(starts, i)),
			EndOffset:     int(num(ends, i)),
		})
		orders = append(orders, num(ingested, i))
	}
	return chunks, orders
}
