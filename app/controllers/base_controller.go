package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
// Exported fields are copied by beego into every per-request controller.
type BaseController struct {
	web.Controller
	Monitor *apperrors.ErrorMonitor
	Logger  *zap.Logger

	started time.Time
}

// Prepare records the request start time for error metrics.
func (c *BaseController) Prepare() {
	c.started = time.Now()
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONCreated writes a success envelope with 201.
func (c *BaseController) JSONCreated(data interface{}) {
	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// Fail maps err to its HTTP status and writes the error envelope.
func (c *BaseController) Fail(err error) {
	appErr := apperrors.Translate(err)
	status := appErr.HTTPCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if c.Monitor != nil {
		c.Monitor.RecordError(appErr, c.Ctx.Input.URL(), time.Since(c.started))
	}

	fields := []zap.Field{
		zap.String("code", string(appErr.Code)),
		zap.String("path", c.Ctx.Input.URL()),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		c.logger().Error("Request failed", fields...)
	} else {
		c.logger().Debug("Request rejected", fields...)
	}

	payload := map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	}
	if appErr.Details != nil {
		payload["details"] = appErr.Details
	}
	c.JSON(status, payload)
}

// decodeJSON reads the request body into v.
func (c *BaseController) decodeJSON(v interface{}) error {
	body := c.Ctx.Input.RequestBody
	if len(body) == 0 && c.Ctx.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Ctx.Request.Body)
		if err != nil {
			return apperrors.NewInvalidArgumentError("body", "unreadable request body")
		}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperrors.NewInvalidArgumentError("body", "request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.NewInvalidArgumentError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// pathID returns the :id route parameter.
func (c *BaseController) pathID() (string, error) {
	id := strings.TrimSpace(c.Ctx.Input.Param(":id"))
	if id == "" {
		return "", apperrors.NewInvalidArgumentError("id", "must not be empty")
	}
	return id, nil
}

func (c *BaseController) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
