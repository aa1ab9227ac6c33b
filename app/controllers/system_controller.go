package controllers

import (
	"net/http"

	"github.com/aihub/rag-service/internal/database"
	"github.com/aihub/rag-service/internal/services"
	"github.com/beego/beego/v2/server/web"
)

// HealthController reports vector store health and readiness.
type HealthController struct {
	BaseController
	Service *services.RAGService
	Checker *database.HealthChecker
}

// Health GET /health
func (c *HealthController) Health() {
	ctx := c.Ctx.Request.Context()
	healthy := c.Service.Health(ctx)
	ready := healthy && c.Service.Ready(ctx)

	data := map[string]interface{}{
		"status":       "ok",
		"vector_store": healthy,
		"ready":        ready,
	}
	if c.Checker != nil {
		data["dependencies"] = c.Checker.Results()
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		data["status"] = "unavailable"
	}
	c.JSON(status, map[string]interface{}{
		"success": healthy,
		"data":    data,
	})
}

// StatsController reports document and chunk counts.
type StatsController struct {
	BaseController
	Service *services.RAGService
}

// Stats GET /api/stats
func (c *StatsController) Stats() {
	stats, err := c.Service.Stats(c.Ctx.Request.Context())
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(stats)
}

// MetricsController serves the Prometheus registry.
type MetricsController struct {
	web.Controller
	Handler http.Handler
}

// Metrics GET /metrics
func (c *MetricsController) Metrics() {
	c.EnableRender = false
	if c.Handler == nil {
		c.Ctx.Output.SetStatus(http.StatusNotFound)
		_ = c.Ctx.Output.Body([]byte("metrics disabled\n"))
		return
	}
	c.Handler.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
