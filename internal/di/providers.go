package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aihub/rag-service/internal/config"
	"github.com/aihub/rag-service/internal/database"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/kafka"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/metrics"
	"github.com/aihub/rag-service/internal/repository"
	"github.com/aihub/rag-service/internal/services"
	"github.com/aihub/rag-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const connectTimeout = 30 * time.Second

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config, logger *zap.Logger) error {
	if cfg == nil {
		return apperrors.NewConfigurationError("config not loaded")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger },
		func() *Cleanup { return &Cleanup{} },
		provideRegistry,
		provideMetrics,
		provideErrorMonitor,
		provideRedis,
		provideDatabase,
		provideDocumentRepository,
		provideEmbedder,
		provideVectorStore,
		provideGenerator,
		provideArchive,
		provideEventPublisher,
		provideSessionStore,
		provideRAGService,
		provideHealthChecker,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// Build 创建容器并注册全部提供者
func Build(cfg *config.Config, logger *zap.Logger) (*dig.Container, error) {
	container := InitContainer()
	if err := RegisterProviders(container, cfg, logger); err != nil {
		return nil, err
	}
	return container, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollector(reg)
}

func provideErrorMonitor(reg *prometheus.Registry) *apperrors.ErrorMonitor {
	return apperrors.NewErrorMonitor(reg)
}

// provideRedis Redis 可选，未启用或连接失败时返回 nil
func provideRedis(cfg *config.Config, cleanup *Cleanup, logger *zap.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Failed to initialize Redis, session export and embedding cache disabled", zap.Error(err))
		return nil
	}
	cleanup.Add("redis", client.Close)
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	return client
}

// provideDatabase 文档登记库可选，未启用时返回 nil
func provideDatabase(cfg *config.Config, cleanup *Cleanup, logger *zap.Logger, reg *prometheus.Registry) (*gorm.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}
	db, err := database.Open(cfg.Database, logger.Named("database"))
	if err != nil {
		return nil, err
	}
	cleanup.Add("postgres", func() error { return database.Close(db) })

	if sqlDB, err := db.DB(); err == nil {
		if err := reg.Register(database.NewPoolCollector(sqlDB)); err != nil {
			logger.Warn("Failed to register database pool metrics", zap.Error(err))
		}
	}
	return db, nil
}

func provideDocumentRepository(db *gorm.DB, logger *zap.Logger) repository.DocumentRepository {
	if db == nil {
		logger.Info("Database disabled, using in-process document registry")
		return repository.NewMemoryDocumentRepository()
	}
	return repository.NewDocumentRepository(db)
}

// provideEmbedder OpenAI兼容客户端 → 限流/熔断/重试 → 可选Redis缓存
func provideEmbedder(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (knowledge.Embedder, error) {
	base, err := knowledge.NewOpenAIEmbedder(knowledge.EmbedderOptions{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.RAG.EmbeddingModel,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Embedding.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Embedding.RequestsPerSecond), cfg.Embedding.Burst)
	}
	policy := knowledge.RetryPolicy{
		MaxRetries: cfg.Embedding.MaxRetries,
		Backoff:    cfg.Embedding.RetryBackoff,
	}
	breaker := knowledge.NewCircuitBreaker("embedding", 5, 2, 30*time.Second, apperrors.IsRetryable)

	var embedder knowledge.Embedder = knowledge.NewResilientEmbedder(base, policy, limiter, breaker, logger.Named("embedding"))
	if cfg.Embedding.CacheEnabled && rdb != nil {
		embedder = knowledge.NewCachedEmbedder(embedder, rdb, cfg.Embedding.CacheTTL, logger.Named("embedding-cache"))
	}
	return embedder, nil
}

// provideVectorStore 按 provider 创建向量库，已有集合的模型或维度不一致时启动失败
func provideVectorStore(cfg *config.Config, embedder knowledge.Embedder, cleanup *Cleanup, logger *zap.Logger) (knowledge.VectorStore, error) {
	vs := cfg.VectorStore
	dims := embedder.Dimensions()
	model := embedder.Model()

	var store knowledge.VectorStore
	switch vs.Provider {
	case "", "memory":
		store = knowledge.NewMemoryVectorStore(dims, model)
	case "milvus":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		milvus, err := knowledge.NewMilvusVectorStore(ctx, knowledge.MilvusOptions{
			Address:        vs.Milvus.Address,
			Username:       vs.Milvus.Username,
			Password:       vs.Milvus.Password,
			Database:       vs.Milvus.Database,
			Collection:     vs.Milvus.Collection,
			UseTLS:         vs.Milvus.TLS,
			Dimensions:     dims,
			EmbeddingModel: model,
		}, logger.Named("milvus"))
		if err != nil {
			return nil, err
		}
		store = milvus
	case "elasticsearch":
		es, err := knowledge.NewElasticsearchVectorStore(knowledge.ElasticsearchOptions{
			Addresses:      vs.Elasticsearch.Addresses,
			Username:       vs.Elasticsearch.Username,
			Password:       vs.Elasticsearch.Password,
			APIKey:         vs.Elasticsearch.APIKey,
			Index:          vs.Elasticsearch.Index,
			Dimensions:     dims,
			EmbeddingModel: model,
		}, logger.Named("elasticsearch"))
		if err != nil {
			return nil, err
		}
		store = es
	default:
		return nil, apperrors.NewConfigurationError("unknown vector store provider %q", vs.Provider)
	}

	cleanup.Add("vector_store", store.Close)
	logger.Info("Vector store initialized",
		zap.String("provider", vs.Provider),
		zap.Int("dimensions", dims),
		zap.String("embedding_model", model))
	return store, nil
}

func provideGenerator(cfg *config.Config) (services.Generator, error) {
	generator, err := services.NewOpenAIGenerator(services.GeneratorOptions{
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		Model:       cfg.RAG.GenerationModel,
		Timeout:     cfg.Generation.Timeout,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return generator, nil
}

// provideArchive 原文归档可选
func provideArchive(cfg *config.Config, logger *zap.Logger) services.RawTextArchive {
	if !cfg.Storage.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	archive, err := storage.NewMinIOArchive(ctx, cfg.Storage, logger.Named("minio"))
	if err != nil {
		logger.Warn("Failed to initialize MinIO, raw text archive disabled", zap.Error(err))
		return nil
	}
	return archive
}

// provideEventPublisher Kafka 事件可选
func provideEventPublisher(cfg *config.Config, cleanup *Cleanup, logger *zap.Logger) services.EventPublisher {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewEventProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, logger.Named("kafka"))
	if err != nil {
		logger.Warn("Failed to initialize Kafka producer, document events disabled", zap.Error(err))
		return nil
	}
	cleanup.Add("kafka_producer", producer.Close)
	return producer
}

func provideSessionStore(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) *services.SessionStore {
	return services.NewSessionStore(rdb, cfg.Redis.TTL, logger.Named("sessions"))
}

type ragServiceParams struct {
	dig.In

	Config    *config.Config
	Embedder  knowledge.Embedder
	Store     knowledge.VectorStore
	Generator services.Generator
	Documents repository.DocumentRepository
	Archive   services.RawTextArchive
	Events    services.EventPublisher
	Sessions  *services.SessionStore
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

func provideRAGService(p ragServiceParams) (*services.RAGService, error) {
	return services.NewRAGService(p.Config.RAG, services.Dependencies{
		Embedder:     p.Embedder,
		Store:        p.Store,
		Generator:    p.Generator,
		Documents:    p.Documents,
		Archive:      p.Archive,
		Events:       p.Events,
		Sessions:     p.Sessions,
		Parsers:      knowledge.NewFileParserManager(),
		TokenCounter: knowledge.NewHeuristicTokenCounter(),
		Metrics:      p.Metrics,
		Logger:       p.Logger.Named("rag"),
	})
}

// provideHealthChecker 注册各依赖的探活
func provideHealthChecker(svc *services.RAGService, db *gorm.DB, rdb redis.UniversalClient) *database.HealthChecker {
	checker := database.NewHealthChecker(logrus.StandardLogger())
	checker.Register("vector_store", func(ctx context.Context) error {
		if !svc.Health(ctx) {
			return errors.New("vector store unavailable")
		}
		return nil
	})
	if db != nil {
		checker.Register("postgres", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}
	if rdb != nil {
		checker.Register("redis", func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		})
	}
	return checker
}
