package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	openai "github.com/sashabaranov/go-openai"
)

// TokenStream 后端的流式输出，结束时 Recv 返回 io.EOF
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Generator 接受prompt，返回token流
type Generator interface {
	Stream(ctx context.Context, prompt string) (TokenStream, error)
	Model() string
}

// GeneratorOptions 生成后端配置
type GeneratorOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
}

// OpenAIGenerator 通过OpenAI兼容接口（Ollama /v1 等）流式生成
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
	maxTokens   int
}

// NewOpenAIGenerator 创建生成器
func NewOpenAIGenerator(opts GeneratorOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, apperrors.NewConfigurationError("generation model must be set")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		timeout:     timeout,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

func (g *OpenAIGenerator) Model() string { return g.model }

// Stream 打开流式补全，超时覆盖整个流的生命周期
func (g *OpenAIGenerator) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	streamCtx, cancel := context.WithTimeout(ctx, g.timeout)

	stream, err := g.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, apperrors.NewGenerationError("failed to open completion stream", err)
	}

	return &openAITokenStream{stream: stream, cancel: cancel}, nil
}

type openAITokenStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *openAITokenStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", apperrors.NewGenerationError("completion stream interrupted", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

// Close 关闭流并释放后端连接
func (s *openAITokenStream) Close() error {
	defer s.cancel()
	return s.stream.Close()
}
