package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Embedder 定义文本向量化接口
// 返回的向量不做归一化，归一化由向量库负责
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 返回顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Ready() bool
}

// EmbedderOptions OpenAI兼容Embedding服务配置
type EmbedderOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder 使用OpenAI兼容的Embedding API（默认指向本地Ollama）
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// NewOpenAIEmbedder 创建嵌入向量生成器
func NewOpenAIEmbedder(opts EmbedderOptions) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, apperrors.NewConfigurationError("embedding model is required")
	}
	if opts.Dimensions <= 0 {
		return nil, apperrors.NewConfigurationError("embedding dimensions must be positive, got %d", opts.Dimensions)
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		// Ollama 不校验密钥，但请求头不能为空
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		timeout:    timeout,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	// 纯空白是合法分块（PDF抽取常见），只拒绝空串
	for i, text := range texts {
		if text == "" {
			return nil, apperrors.NewInvalidArgumentError("text", fmt.Sprintf("input %d is empty", i))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewEmbeddingServiceError("embedding request timed out", err)
		}
		return nil, apperrors.NewEmbeddingServiceError("embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewEmbeddingServiceError(
			fmt.Sprintf("malformed embedding response: expected %d vectors, got %d", len(texts), len(resp.Data)), nil)
	}

	result := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || result[item.Index] != nil {
			return nil, apperrors.NewEmbeddingServiceError(
				fmt.Sprintf("malformed embedding response: unexpected index %d", item.Index), nil)
		}
		if len(item.Embedding) != e.dimensions {
			return nil, apperrors.NewConfigurationError(
				"embedding model %s returned %d dimensions, configured %d", e.model, len(item.Embedding), e.dimensions)
		}
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		result[item.Index] = vector
	}

	return result, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
