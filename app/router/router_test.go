package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aihub/rag-service/internal/config"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/knowledge/knowledgetest"
	"github.com/aihub/rag-service/internal/metrics"
	"github.com/aihub/rag-service/internal/services"
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoGenerator 逐个输出固定token
type echoGenerator struct {
	tokens []string
}

func (g *echoGenerator) Model() string { return "echo" }

func (g *echoGenerator) Stream(ctx context.Context, prompt string) (services.TokenStream, error) {
	return &echoStream{tokens: g.tokens}, nil
}

type echoStream struct {
	tokens []string
	pos    int
}

func (s *echoStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *echoStream) Close() error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type fixture struct {
	handlers *web.ControllerRegister
	routes   []Route
	service  *services.RAGService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	web.BConfig.CopyRequestBody = true

	embedder := knowledgetest.NewKeywordEmbedder("sky", "blue", "grass", "green")
	store := knowledge.NewMemoryVectorStore(embedder.Dimensions(), embedder.Model())
	reg := prometheus.NewRegistry()

	svc, err := services.NewRAGService(config.RAGConfig{
		ChunkSize:          60,
		Overlap:            10,
		TopKDefault:        3,
		MaxTopK:            10,
		EmbeddingModel:     embedder.Model(),
		GenerationModel:    "echo",
		ContextTokenBudget: 500,
	}, services.Dependencies{
		Embedder:  embedder,
		Store:     store,
		Generator: &echoGenerator{tokens: []string{"The ", "sky ", "is blue."}},
		Metrics:   metrics.NewCollector(reg),
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	handlers := web.NewControllerRegister()
	routes, err := Register(handlers, Deps{
		Service:        svc,
		Registry:       reg,
		Monitor:        apperrors.NewErrorMonitor(reg),
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"http://localhost:5173"},
		MaxUploadSize:  1 << 20,
		EnableMetrics:  true,
	})
	require.NoError(t, err)

	return &fixture{handlers: handlers, routes: routes, service: svc}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.handlers.ServeHTTP(w, req)
	return w
}

func (f *fixture) doJSON(t *testing.T, method, target string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	w := f.do(t, method, target, body, "application/json")

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (f *fixture) ingest(t *testing.T, filename, content string) string {
	t.Helper()
	w, env := f.doJSON(t, http.MethodPost, "/api/documents", map[string]string{
		"filename": filename,
		"content":  content,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result services.IngestResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(t, result.DocumentID)
	return result.DocumentID
}

func TestRegister_RouteTable(t *testing.T) {
	f := newFixture(t)

	paths := make(map[string]bool)
	for _, r := range f.routes {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"POST /api/documents",
		"POST /api/documents/upload",
		"GET /api/documents",
		"GET /api/documents/:id/chunks",
		"DELETE /api/documents/:id",
		"POST /api/documents/:id/reindex",
		"GET /api/search",
		"POST /api/query",
		"GET /api/stats",
		"GET /api/sessions/:id",
		"DELETE /api/sessions/:id",
		"POST /api/sessions/:id/export",
	} {
		assert.True(t, paths[want], "missing route %s", want)
	}
}

func TestDocuments_IngestSearchDelete(t *testing.T) {
	f := newFixture(t)
	skyID := f.ingest(t, "sky.txt", "The sky is blue. A blue sky over the sea.")
	f.ingest(t, "grass.txt", "Grass is green. Green grass grows in spring.")

	w, env := f.doJSON(t, http.MethodGet, "/api/search?q=blue+sky&top_k=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result knowledge.RetrievalResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "sky.txt", result.Matches[0].Chunk.Filename)
	assert.LessOrEqual(t, len(result.Matches), 2)

	// 文件名过滤先于 top_k 生效
	w, env = f.doJSON(t, http.MethodGet, "/api/search?q=blue+sky&filename=grass.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	for _, m := range result.Matches {
		assert.Equal(t, "grass.txt", m.Chunk.Filename)
	}

	w, env = f.doJSON(t, http.MethodGet, "/api/documents/"+skyID+"/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chunks struct {
		Chunks []knowledge.Chunk `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chunks))
	require.NotEmpty(t, chunks.Chunks)
	for i, c := range chunks.Chunks {
		assert.Equal(t, i, c.SequenceIndex)
	}

	w, _ = f.doJSON(t, http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.doJSON(t, http.MethodDelete, "/api/documents/"+skyID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = f.doJSON(t, http.MethodGet, "/api/documents/"+skyID+"/chunks", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, string(apperrors.ErrCodeNotFound), env.Code)

	w, _ = f.doJSON(t, http.MethodDelete, "/api/documents/"+skyID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearch_InvalidArguments(t *testing.T) {
	f := newFixture(t)

	w, env := f.doJSON(t, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeInvalidArgument), env.Code)

	w, _ = f.doJSON(t, http.MethodGet, "/api/search?q=sky&top_k=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.doJSON(t, http.MethodGet, "/api/search?q=sky&top_k=11", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.doJSON(t, http.MethodGet, "/api/search?q=sky&min_score=2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.doJSON(t, http.MethodPost, "/api/documents", map[string]string{"content": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_StreamsTokensAndCitations(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "sky.txt", "The sky is blue.")

	data, err := json.Marshal(map[string]interface{}{"query": "what color is the sky", "session_id": "s-1"})
	require.NoError(t, err)
	w := f.do(t, http.MethodPost, "/api/query", bytes.NewReader(data), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event: token\n"))
	assert.Contains(t, body, `data: {"text":"sky "}`)
	require.Contains(t, body, "event: done\n")
	assert.NotContains(t, body, "event: error\n")

	done := body[strings.Index(body, "event: done\n"):]
	dataLine := strings.TrimPrefix(strings.SplitN(done, "\n", 3)[1], "data: ")
	var event struct {
		State     string               `json:"state"`
		Citations []knowledge.Citation `json:"citations"`
		SessionID string               `json:"session_id"`
		Tokens    int                  `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal([]byte(dataLine), &event))
	assert.Equal(t, "COMPLETED", event.State)
	assert.Equal(t, 3, event.Tokens)
	assert.Equal(t, "s-1", event.SessionID)
	require.NotEmpty(t, event.Citations)
	assert.Equal(t, "sky.txt", event.Citations[0].Filename)

	// 助手回复异步写入会话
	assert.Eventually(t, func() bool {
		w, env := f.doJSON(t, http.MethodGet, "/api/sessions/s-1", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var history struct {
			Turns []services.ConversationTurn `json:"turns"`
		}
		return json.Unmarshal(env.Data, &history) == nil && len(history.Turns) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestQuery_NonStreaming(t *testing.T) {
	f := newFixture(t)

	w, env := f.doJSON(t, http.MethodPost, "/api/query", map[string]interface{}{
		"query":  "anything",
		"stream": false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var answer struct {
		Answer    string `json:"answer"`
		NoContext bool   `json:"no_context"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &answer))
	assert.Equal(t, "The sky is blue.", answer.Answer)
	assert.True(t, answer.NoContext)

	w, _ = f.doJSON(t, http.MethodPost, "/api/query", map[string]interface{}{"query": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocuments_Upload(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Notes\n\nGrass is green."))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	w := f.do(t, http.MethodPost, "/api/documents/upload", &buf, form.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var result services.IngestResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "notes.md", result.Filename)
	assert.Equal(t, 1, result.Chunks)

	// 不支持的格式
	buf.Reset()
	form = multipart.NewWriter(&buf)
	part, err = form.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte{0x89, 0x50})
	require.NoError(t, form.Close())
	w = f.do(t, http.MethodPost, "/api/documents/upload", &buf, form.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_NotFoundAndExport(t *testing.T) {
	f := newFixture(t)

	w, env := f.doJSON(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)

	w, _ = f.doJSON(t, http.MethodDelete, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.service.Sessions().Append("s-2", services.ConversationTurn{Role: services.RoleUser, Content: "hi"})

	// 未配置Redis时导出失败
	w, env = f.doJSON(t, http.MethodPost, "/api/sessions/s-2/export", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeConfiguration), env.Code)

	w, _ = f.doJSON(t, http.MethodDelete, "/api/sessions/s-2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSystemEndpoints(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "sky.txt", "The sky is blue.")

	w, env := f.doJSON(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, env = f.doJSON(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.ServiceStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, "test-model", stats.EmbeddingModel)

	w = f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rag_ingest_total")

	require.NoError(t, f.service.Close())
	w, env = f.doJSON(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	f.handlers.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.handlers.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
