package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aihub/rag-service/internal/config"
	"github.com/aihub/rag-service/internal/database"
	"github.com/aihub/rag-service/internal/repository"
	"github.com/aihub/rag-service/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8001, Env: "development", MaxUploadSize: 1 << 20},
		RAG: config.RAGConfig{
			ChunkSize:          200,
			Overlap:            20,
			TopKDefault:        3,
			MaxTopK:            10,
			EmbeddingModel:     "nomic-embed-text",
			GenerationModel:    "llama2:7b",
			ContextTokenBudget: 500,
		},
		Embedding: config.EmbeddingConfig{
			BaseURL:      "http://127.0.0.1:1/v1",
			Dimensions:   8,
			Timeout:      time.Second,
			MaxRetries:   2,
			RetryBackoff: 10 * time.Millisecond,
			Burst:        1,
		},
		Generation:  config.GenerationConfig{BaseURL: "http://127.0.0.1:1/v1"},
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
	}
}

func TestContainerBasicOperations(t *testing.T) {
	container := InitContainer()
	assert.NotNil(t, GetContainer())

	type TestService struct {
		Name string
	}
	require.NoError(t, Provide(func() *TestService { return &TestService{Name: "test"} }))
	assert.NoError(t, Invoke(func(svc *TestService) {
		assert.Equal(t, "test", svc.Name)
	}))
	assert.Same(t, container, Container)
}

func TestBuild_MemoryStack(t *testing.T) {
	container, err := Build(testConfig(), zap.NewNop())
	require.NoError(t, err)

	err = container.Invoke(func(
		svc *services.RAGService,
		docs repository.DocumentRepository,
		checker *database.HealthChecker,
		reg *prometheus.Registry,
		cleanup *Cleanup,
	) {
		assert.Equal(t, 200, svc.Config().ChunkSize)
		assert.True(t, svc.Health(context.Background()))
		assert.NotNil(t, docs)

		// 仅注册了向量库探活
		require.NoError(t, checker.CheckAll(context.Background()))
		results := checker.Results()
		require.Len(t, results, 1)
		assert.Equal(t, "vector_store", results[0].Name)

		families, gerr := reg.Gather()
		require.NoError(t, gerr)
		assert.NotEmpty(t, families)

		cleanup.Run(zap.NewNop())
		assert.False(t, svc.Health(context.Background()))
	})
	require.NoError(t, err)
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Provider = "faiss"

	container, err := Build(cfg, nil)
	require.NoError(t, err)

	err = container.Invoke(func(svc *services.RAGService) {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "faiss")
}

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)
}

func TestCleanup_ReverseOrder(t *testing.T) {
	var order []string
	c := &Cleanup{}
	c.Add("first", func() error { order = append(order, "first"); return nil })
	c.Add("second", func() error { order = append(order, "second"); return errors.New("boom") })
	c.Add("third", func() error { order = append(order, "third"); return nil })

	c.Run(zap.NewNop())
	assert.Equal(t, []string{"third", "second", "first"}, order)

	// 只执行一次
	c.Run(nil)
	assert.Len(t, order, 3)
}
