package router

import (
	"github.com/aihub/rag-service/app/controllers"
	"github.com/aihub/rag-service/app/middleware"
	"github.com/aihub/rag-service/internal/database"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/services"
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps 路由所需的服务
type Deps struct {
	Service        *services.RAGService
	Checker        *database.HealthChecker
	Registry       *prometheus.Registry
	Monitor        *apperrors.ErrorMonitor
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxUploadSize  int64
	EnableMetrics  bool
}

// Init registers all routes on the global beego application.
func Init(deps Deps) ([]Route, error) {
	return Register(web.BeeApp.Handlers, deps)
}

// Register installs filters and routes on handlers and returns the route table.
func Register(handlers *web.ControllerRegister, deps Deps) ([]Route, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if err := middleware.Install(handlers, middleware.Options{
		AllowedOrigins: deps.AllowedOrigins,
		// 上传走 multipart，请求体上限留出表单开销
		MaxBodyBytes: deps.MaxUploadSize + 1<<20,
		Logger:       deps.Logger.Named("http"),
	}); err != nil {
		return nil, err
	}

	base := controllers.BaseController{Monitor: deps.Monitor, Logger: deps.Logger.Named("api")}

	root := NewRouteGroup(handlers, "")
	root.Add("/health", &controllers.HealthController{BaseController: base, Service: deps.Service, Checker: deps.Checker}, "get:Health")

	metrics := &controllers.MetricsController{}
	if deps.EnableMetrics && deps.Registry != nil {
		metrics.Handler = promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry})
	}
	root.Add("/metrics", metrics, "get:Metrics")

	api := root.Group("/api")

	documents := &controllers.DocumentController{BaseController: base, Service: deps.Service, MaxUploadSize: deps.MaxUploadSize}
	// 静态路径需要先于 :id 注册
	api.Add("/documents/upload", documents, "post:Upload")
	api.Add("/documents", documents, "get:List", "post:Create")
	api.Add("/documents/:id", documents, "delete:Delete")
	api.Add("/documents/:id/chunks", documents, "get:Chunks")
	api.Add("/documents/:id/reindex", documents, "post:Reindex")

	api.Add("/search", &controllers.SearchController{BaseController: base, Service: deps.Service}, "get:Search")
	api.Add("/query", &controllers.QueryController{BaseController: base, Service: deps.Service}, "post:Query")
	api.Add("/stats", &controllers.StatsController{BaseController: base, Service: deps.Service}, "get:Stats")

	sessions := &controllers.SessionController{BaseController: base, Sessions: deps.Service.Sessions()}
	api.Add("/sessions/:id", sessions, "get:Get", "delete:Delete")
	api.Add("/sessions/:id/export", sessions, "post:Export")

	return root.Routes(), nil
}
