package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

// BodyLimit 拒绝 Content-Length 超过 maxBytes 的请求
func BodyLimit(maxBytes int64) web.FilterFunc {
	return func(ctx *context.Context) {
		if maxBytes <= 0 || ctx.Request.ContentLength <= maxBytes {
			return
		}
		ctx.Output.SetStatus(http.StatusRequestEntityTooLarge)
		_ = ctx.Output.JSON(map[string]interface{}{
			"success": false,
			"error":   "request body too large",
		}, false, false)
	}
}
