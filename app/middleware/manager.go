package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

// Options 全局过滤器配置
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

// Install 在路由表上注册 CORS、请求体限制、请求日志和 panic 恢复
func Install(handlers *web.ControllerRegister, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := handlers.InsertFilter("/*", web.BeforeRouter, CORS(opts.AllowedOrigins)); err != nil {
		return fmt.Errorf("install cors filter: %w", err)
	}
	if err := handlers.InsertFilter("/api/*", web.BeforeRouter, BodyLimit(opts.MaxBodyBytes)); err != nil {
		return fmt.Errorf("install body limit filter: %w", err)
	}
	handlers.InsertFilterChain("/*", RequestLogger(logger))
	handlers.InsertFilterChain("/*", Recovery(logger))
	return nil
}

// RequestLogger 记录每个请求的方法、路径、状态码和耗时
func RequestLogger(logger *zap.Logger) web.FilterChain {
	return func(next web.FilterFunc) web.FilterFunc {
		return func(ctx *beecontext.Context) {
			start := time.Now()
			next(ctx)

			status := ctx.ResponseWriter.Status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", ctx.Input.Method()),
				zap.String("path", ctx.Input.URL()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", clientIP(ctx)),
			}
			switch {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Info("Request completed", fields...)
			}
		}
	}
}

// Recovery 捕获处理器 panic 并返回 500
func Recovery(logger *zap.Logger) web.FilterChain {
	return func(next web.FilterFunc) web.FilterFunc {
		return func(ctx *beecontext.Context) {
			defer func() {
				if r := recover(); r != nil {
					if r == web.ErrAbort {
						panic(r)
					}
					logger.Error("Panic recovered",
						zap.Any("panic", r),
						zap.String("path", ctx.Input.URL()),
						zap.Stack("stack"))
					if ctx.ResponseWriter.Started {
						return
					}
					ctx.Output.SetStatus(http.StatusInternalServerError)
					_ = ctx.Output.JSON(map[string]interface{}{
						"success": false,
						"error":   "Internal server error",
					}, false, false)
				}
			}()
			next(ctx)
		}
	}
}

func clientIP(ctx *beecontext.Context) string {
	if forwarded := ctx.Input.Header("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := ctx.Input.Header("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ctx.Input.IP()
}
