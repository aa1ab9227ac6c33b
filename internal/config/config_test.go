package config

import (
	"testing"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_Load(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	loader := NewConfigLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 120, cfg.RAG.Overlap)
	assert.Equal(t, 3, cfg.RAG.TopKDefault)
	assert.Equal(t, 20, cfg.RAG.MaxTopK)
	assert.Equal(t, "nomic-embed-text", cfg.RAG.EmbeddingModel)
	assert.Equal(t, "llama2:7b", cfg.RAG.GenerationModel)
	assert.Equal(t, 2000, cfg.RAG.ContextTokenBudget)

	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 2, cfg.Embedding.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "memory", cfg.VectorStore.Provider)
	assert.Equal(t, 180*time.Second, cfg.VectorStore.ReadyTimeout)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.VectorStore.Elasticsearch.Addresses)
	assert.False(t, cfg.Kafka.Enabled)

	assert.Equal(t, cfg.RAG, loader.GetConfig().RAG)
}

func TestConfigLoader_LoadWithEnvVars(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RAG_CHUNK_SIZE", "400")
	t.Setenv("CHUNK_OVERLAP", "40")
	t.Setenv("TOP_K", "5")
	t.Setenv("MIN_SCORE", "0.35")
	t.Setenv("EMBEDDING_MODEL", "mxbai-embed-large")
	t.Setenv("RAG_GENERATION_MODEL", "llama3:8b")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "1024")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.RAG.ChunkSize)
	assert.Equal(t, 40, cfg.RAG.Overlap)
	assert.Equal(t, 5, cfg.RAG.TopKDefault)
	assert.InDelta(t, 0.35, cfg.RAG.MinScore, 1e-9)
	assert.Equal(t, "mxbai-embed-large", cfg.RAG.EmbeddingModel)
	assert.Equal(t, "llama3:8b", cfg.RAG.GenerationModel)
	assert.Equal(t, 1024, cfg.RAG.ContextTokenBudget)
}

func TestConfigLoader_PrefixedEnvWins(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RAG_CHUNK_SIZE", "600")
	t.Setenv("CHUNK_SIZE", "300")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.RAG.ChunkSize)
}

func TestConfigLoader_RejectsOverlapNotBelowChunkSize(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RAG_CHUNK_SIZE", "100")
	t.Setenv("RAG_OVERLAP", "100")

	cfg, err := NewConfigLoader().Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
}

func TestConfigLoader_RejectsUnknownVectorStore(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RAG_VECTOR_STORE_PROVIDER", "faiss")

	_, err := NewConfigLoader().Load()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
}
