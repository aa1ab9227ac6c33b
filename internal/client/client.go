// Package client 是 RAG 服务 HTTP 接口的客户端，供 ragctl 使用
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/services"
)

// Client RAG 服务客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端，timeout 为 0 时不限时（流式问答需要）
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError 服务端返回的错误信封
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// QueryOptions 问答参数
type QueryOptions struct {
	Query     string   `json:"query"`
	TopK      int      `json:"top_k,omitempty"`
	MinScore  *float64 `json:"min_score,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// QueryResult 流式问答的最终事件
type QueryResult struct {
	State      string               `json:"state"`
	Citations  []knowledge.Citation `json:"citations"`
	NoContext  bool                 `json:"no_context"`
	Tokens     int                  `json:"tokens"`
	SessionID  string               `json:"session_id"`
	Sources    string               `json:"sources"`
	Incomplete bool                 `json:"incomplete"`
	Error      string               `json:"error"`
	Partial    string               `json:"partial"`
}

// Upload 上传文件入库
func (c *Client) Upload(ctx context.Context, path string) (*services.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/documents/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result services.IngestResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search 仅检索
func (c *Client) Search(ctx context.Context, query string, topK int) (*knowledge.RetrievalResult, error) {
	params := url.Values{"q": {query}}
	if topK > 0 {
		params.Set("top_k", strconv.Itoa(topK))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var result knowledge.RetrievalResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete 删除文档
func (c *Client) Delete(ctx context.Context, documentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Stats 服务统计
func (c *Client) Stats(ctx context.Context) (*services.ServiceStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stats", nil)
	if err != nil {
		return nil, err
	}

	var stats services.ServiceStats
	if err := c.do(req, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Query 流式问答，每个token回调 onToken，返回 done 或 error 事件的内容
func (c *Client) Query(ctx context.Context, opts QueryOptions, onToken func(string)) (*QueryResult, error) {
	payload, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result *QueryResult
	err = readEvents(resp.Body, func(event string, data []byte) error {
		switch event {
		case "token":
			var token struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(data, &token); err != nil {
				return err
			}
			if onToken != nil {
				onToken(token.Text)
			}
		case "done", "error":
			result = &QueryResult{}
			if err := json.Unmarshal(data, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("stream ended without a final event")
	}
	if result.Error != "" {
		return result, fmt.Errorf("generation %s: %s", strings.ToLower(result.State), result.Error)
	}
	return result, nil
}

// readEvents 解析 text/event-stream，事件以空行结束
func readEvents(r io.Reader, handle func(event string, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || data.Len() > 0 {
				if err := handle(event, data.Bytes()); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
