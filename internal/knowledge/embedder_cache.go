package knowledge

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const embeddingCachePrefix = "rag:embedding"

// CachedEmbedder 以 模型+文本指纹 为键在Redis中缓存向量
// 缓存不可用时直接回源，不影响主流程
type CachedEmbedder struct {
	inner  Embedder
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedEmbedder 创建带Redis缓存的Embedder
func NewCachedEmbedder(inner Embedder, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	result := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache lookup failed", zap.Error(err))
	} else {
		for i, value := range cached {
			raw, ok := value.(string)
			if !ok {
				continue
			}
			if vector, ok := decodeVector(raw, c.inner.Dimensions()); ok {
				result[i] = vector
			}
		}
	}

	var missingIdx []int
	var missingTexts []string
	for i, vector := range result {
		if vector == nil {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, texts[i])
		}
	}
	if len(missingTexts) == 0 {
		return result, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missingTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for j, idx := range missingIdx {
		result[idx] = fresh[j]
		pipe.Set(ctx, keys[idx], encodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}

	return result, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Model() string { return c.inner.Model() }

func (c *CachedEmbedder) Ready() bool { return c.inner.Ready() }

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%s", embeddingCachePrefix, c.inner.Model(), hex.EncodeToString(sum[:16]))
}

// encodeVector 小端序float32编码
func encodeVector(vector []float32) string {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return string(buf)
}

func decodeVector(raw string, dims int) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 || (dims > 0 && len(raw)/4 != dims) {
		return nil, false
	}
	data := []byte(raw)
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, true
}
