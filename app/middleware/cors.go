package middleware

import (
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With, Accept, Origin, X-Session-Id"
)

// CORS 按配置的来源列表设置跨域响应头，"*" 表示允许任意来源
func CORS(allowedOrigins []string) web.FilterFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAll = true
			continue
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				ctx.Output.Header("Access-Control-Allow-Origin", origin)
				ctx.Output.Header("Vary", "Origin")
				ctx.Output.Header("Access-Control-Allow-Credentials", "true")
			}
		}
		ctx.Output.Header("Access-Control-Allow-Methods", corsAllowMethods)
		ctx.Output.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		ctx.Output.Header("Access-Control-Max-Age", "3600")

		// 预检请求直接返回
		if ctx.Input.Method() == http.MethodOptions {
			ctx.Output.SetStatus(http.StatusNoContent)
			_ = ctx.Output.Body([]byte(""))
		}
	}
}
