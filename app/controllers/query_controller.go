package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/services"
	"go.uber.org/zap"
)

// SSE 事件类型
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// QueryController answers questions over the indexed documents.
type QueryController struct {
	BaseController
	Service *services.RAGService
}

type queryRequest struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	MinScore   *float64 `json:"min_score"`
	Filename   string   `json:"filename"`
	DocumentID string   `json:"document_id"`
	SessionID  string   `json:"session_id"`
	Stream     *bool    `json:"stream"`
}

// DoneEvent 生成完成时发送
type DoneEvent struct {
	State      string               `json:"state"`
	Citations  []knowledge.Citation `json:"citations"`
	NoContext  bool                 `json:"no_context"`
	Tokens     int                  `json:"tokens"`
	SessionID  string               `json:"session_id,omitempty"`
	Sources    string               `json:"sources,omitempty"`
	Incomplete bool                 `json:"incomplete"`
}

// ErrorEvent 生成失败或取消时发送，Partial 为已交付的文本
type ErrorEvent struct {
	State   string `json:"state"`
	Error   string `json:"error"`
	Partial string `json:"partial"`
}

// Query POST /api/query
// 默认以 SSE 返回 token / done / error 事件，"stream": false 时等待完整答案
func (c *QueryController) Query() {
	var req queryRequest
	if err := c.decodeJSON(&req); err != nil {
		c.Fail(err)
		return
	}

	resp, err := c.Service.Query(c.Ctx.Request.Context(), services.QueryRequest{
		SearchRequest: services.SearchRequest{
			Query:    req.Query,
			TopK:     req.TopK,
			MinScore: req.MinScore,
			Filter:   buildFilter(req.DocumentID, req.Filename),
		},
		SessionID: req.SessionID,
	})
	if err != nil {
		c.Fail(err)
		return
	}

	if req.Stream != nil && !*req.Stream {
		c.respondWhole(resp)
		return
	}
	c.stream(resp)
}

func (c *QueryController) respondWhole(resp *services.QueryResponse) {
	answer := resp.Generation.Wait()
	if answer.State != services.GenerationCompleted {
		err := answer.Err
		if err == nil {
			err = apperrors.NewGenerationError("generation did not complete", nil)
		}
		c.Fail(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"answer":     answer.Text,
		"state":      answer.State.String(),
		"citations":  answer.Citations,
		"no_context": answer.NoContext,
		"tokens":     answer.Tokens,
		"session_id": resp.SessionID,
		"sources":    services.SourcesFooter(answer.Citations),
	})
}

func (c *QueryController) stream(resp *services.QueryResponse) {
	c.EnableRender = false
	w := c.Ctx.ResponseWriter
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	generation := resp.Generation
	broken := false
	for token := range generation.Tokens() {
		if broken {
			continue
		}
		if err := c.writeEvent(EventToken, map[string]string{"text": token}); err != nil {
			// 客户端断开，取消生成并继续消费剩余token
			c.logger().Debug("SSE client went away", zap.Error(err))
			generation.Cancel()
			broken = true
		}
	}

	answer := generation.Wait()
	if broken {
		return
	}

	if answer.State == services.GenerationCompleted {
		_ = c.writeEvent(EventDone, DoneEvent{
			State:      answer.State.String(),
			Citations:  answer.Citations,
			NoContext:  answer.NoContext,
			Tokens:     answer.Tokens,
			SessionID:  resp.SessionID,
			Sources:    services.SourcesFooter(answer.Citations),
			Incomplete: answer.Incomplete,
		})
		return
	}

	message := "generation " + answer.State.String()
	if answer.Err != nil {
		message = apperrors.Translate(answer.Err).Message
	}
	_ = c.writeEvent(EventError, ErrorEvent{
		State:   answer.State.String(),
		Error:   message,
		Partial: answer.Text,
	})
}

func (c *QueryController) writeEvent(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Ctx.ResponseWriter, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Ctx.ResponseWriter.Flush()
	return nil
}
