package bootstrap

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/aihub/rag-service/app/router"
	"github.com/aihub/rag-service/internal/config"
	"github.com/aihub/rag-service/internal/database"
	"github.com/aihub/rag-service/internal/di"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/kafka"
	"github.com/aihub/rag-service/internal/logger"
	"github.com/aihub/rag-service/internal/services"
	"github.com/aihub/rag-service/internal/watcher"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Service      *services.RAGService
	Checker      *database.HealthChecker
	Registry     *prometheus.Registry
	ErrorMonitor *apperrors.ErrorMonitor

	cleanup *di.Cleanup
	cancel  context.CancelFunc
}

type components struct {
	dig.In

	Service  *services.RAGService
	Checker  *database.HealthChecker
	Registry *prometheus.Registry
	Monitor  *apperrors.ErrorMonitor
	Cleanup  *di.Cleanup
}

// Init bootstraps configuration, logger, the dependency graph and background
// workers (health checker, Kafka ingest consumer, inbox watcher).
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	base := logger.GetLogger()

	container, err := di.Build(cfg, base)
	if err != nil {
		return nil, err
	}

	var c components
	if err := container.Invoke(func(deps components) { c = deps }); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:       cfg,
		Logger:       base,
		Service:      c.Service,
		Checker:      c.Checker,
		Registry:     c.Registry,
		ErrorMonitor: c.Monitor,
		cleanup:      c.Cleanup,
		cancel:       cancel,
	}

	// Block until the vector store answers; serving before that only yields errors.
	if err := c.Service.WaitForReady(ctx, cfg.VectorStore.ReadyTimeout, cfg.VectorStore.ReadyInterval); err != nil {
		app.Shutdown()
		return nil, err
	}

	c.Checker.Start(ctx)
	app.cleanup.Add("health_checker", func() error {
		c.Checker.Stop()
		return nil
	})

	if cfg.Kafka.Enabled && cfg.Kafka.IngestTopic != "" {
		app.startIngestConsumer(ctx)
	}
	if cfg.Watcher.Enabled {
		app.startInboxWatcher(ctx)
	}

	base.Info("RAG service initialized",
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("embedding_model", cfg.RAG.EmbeddingModel),
		zap.String("generation_model", cfg.RAG.GenerationModel))
	return app, nil
}

// startIngestConsumer consumes ingest requests from Kafka (optional).
func (a *App) startIngestConsumer(ctx context.Context) {
	kcfg := a.Config.Kafka
	consumer, err := kafka.NewConsumer(kcfg.Brokers, kcfg.GroupID, []string{kcfg.IngestTopic}, a.Logger.Named("kafka"))
	if err != nil {
		a.Logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		return
	}

	consumer.RegisterHandler(kcfg.IngestTopic, kafka.NewIngestHandler(func(ctx context.Context, msg *kafka.IngestMessage) error {
		_, err := a.Service.Ingest(ctx, services.IngestRequest{
			DocumentID: msg.DocumentID,
			Filename:   msg.Filename,
			Content:    msg.Content,
		})
		return err
	}, a.Logger.Named("kafka")))

	consumer.Start(ctx)
	a.cleanup.Add("kafka_consumer", consumer.Close)
}

// startInboxWatcher ingests files dropped into the watch directory (optional).
func (a *App) startInboxWatcher(ctx context.Context) {
	w, err := watcher.NewInboxWatcher(watcher.Options{
		Dir:      a.Config.Watcher.Dir,
		Supports: a.Service.Parsers().Supports,
		Ingest: func(ctx context.Context, path string) (string, error) {
			f, err := os.Open(path)
			if err != nil {
				return "", err
			}
			defer f.Close()
			result, err := a.Service.IngestFile(ctx, f, filepath.Base(path))
			if err != nil {
				return "", err
			}
			return result.DocumentID, nil
		},
		Delete: a.Service.Delete,
		Logger: a.Logger.Named("watcher"),
	})
	if err != nil {
		a.Logger.Warn("Failed to initialize inbox watcher", zap.Error(err))
		return
	}
	if err := w.Start(ctx); err != nil {
		a.Logger.Warn("Failed to start inbox watcher", zap.Error(err))
		return
	}
	a.cleanup.Add("watcher", w.Close)
}

// RouterDeps collects what the HTTP layer needs from the app.
func (a *App) RouterDeps() router.Deps {
	return router.Deps{
		Service:        a.Service,
		Checker:        a.Checker,
		Registry:       a.Registry,
		Monitor:        a.ErrorMonitor,
		Logger:         a.Logger.Named("http"),
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		MaxUploadSize:  a.Config.Server.MaxUploadSize,
		EnableMetrics:  a.Config.Prometheus.Enabled,
	}
}

// Shutdown stops background workers and closes resources gracefully.
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cleanup != nil {
		a.cleanup.Run(a.Logger)
	}

	// Flush logger buffers.
	logger.Sync()
}
