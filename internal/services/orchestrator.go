package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/metrics"
	"go.uber.org/zap"
)

// Answer 一次生成的最终结果
type Answer struct {
	Text       string               `json:"text"`
	State      GenerationState      `json:"state"`
	Incomplete bool                 `json:"incomplete"`
	NoContext  bool                 `json:"no_context"`
	Citations  []knowledge.Citation `json:"citations"`
	Tokens     int                  `json:"tokens"`
	Err        error                `json:"-"`
}

// Generation 单次生成，token 通过无缓冲通道逐个交付，不可重启
type Generation struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc

	citations []knowledge.Citation
	noContext bool

	mu     sync.Mutex
	state  GenerationState
	text   strings.Builder
	count  int
	answer *Answer
}

// Tokens token 通道，进入终态后关闭
func (g *Generation) Tokens() <-chan string {
	return g.tokens
}

// Done 进入终态后关闭
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Cancel 请求取消，状态变为 CANCELLED 后不会再有token
func (g *Generation) Cancel() {
	g.cancel()
}

// State 当前状态
func (g *Generation) State() GenerationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Partial 目前已交付的文本
func (g *Generation) Partial() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.text.String()
}

// Wait 消费剩余token并等待终态
func (g *Generation) Wait() *Answer {
	for range g.tokens {
	}
	<-g.done
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.answer
}

// Result 终态前返回 nil
func (g *Generation) Result() *Answer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.answer
}

func (g *Generation) transition(to GenerationState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.CanTransition(to) {
		return false
	}
	g.state = to
	return true
}

func (g *Generation) appendToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.text.WriteString(token)
	g.count++
}

// finish 设置终态并生成最终结果，之后关闭token通道
func (g *Generation) finish(state GenerationState, err error) *Answer {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.CanTransition(state) {
		g.state = state
	}
	answer := &Answer{
		Text:       g.text.String(),
		State:      g.state,
		Incomplete: g.state != GenerationCompleted,
		NoContext:  g.noContext,
		Tokens:     g.count,
		Err:        err,
	}
	if g.state == GenerationCompleted {
		answer.Citations = g.citations
	}
	g.answer = answer
	return answer
}

// GenerationOrchestrator 驱动生成后端并管理生成状态
// 生成失败不重试，避免重复交付已发送的token
type GenerationOrchestrator struct {
	generator Generator
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewGenerationOrchestrator 创建生成编排器
func NewGenerationOrchestrator(generator Generator, collector *metrics.Collector, logger *zap.Logger) *GenerationOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationOrchestrator{
		generator: generator,
		metrics:   collector,
		logger:    logger,
	}
}

// Generate 启动一次生成，assembled 的引用在 COMPLETED 时附加到结果
func (o *GenerationOrchestrator) Generate(ctx context.Context, prompt string, assembled *knowledge.AssembledContext) *Generation {
	genCtx, cancel := context.WithCancel(ctx)
	g := &Generation{
		tokens:    make(chan string),
		done:      make(chan struct{}),
		cancel:    cancel,
		state:     GenerationPending,
		noContext: assembled.Empty(),
	}
	if assembled != nil {
		g.citations = assembled.Citations()
	}

	go o.run(genCtx, g, prompt)
	return g
}

func (o *GenerationOrchestrator) run(ctx context.Context, g *Generation, prompt string) {
	start := time.Now()
	var answer *Answer
	defer func() {
		// 后端 panic 视为生成失败
		if r := recover(); r != nil {
			o.logger.Error("generation backend panicked", zap.Any("panic", r), zap.Stack("stack"))
			answer = g.finish(GenerationFailed, apperrors.NewGenerationError(fmt.Sprintf("generation backend panicked: %v", r), nil))
		}
		if answer == nil {
			answer = g.finish(GenerationFailed, apperrors.NewGenerationError("generation ended without a result", nil))
		}
		close(g.tokens)
		close(g.done)
		g.cancel()
		o.metrics.RecordGeneration(answer.State.String(), answer.Tokens, time.Since(start))
		o.logger.Debug("generation finished",
			zap.String("state", answer.State.String()),
			zap.Int("tokens", answer.Tokens),
			zap.Duration("duration", time.Since(start)))
	}()

	stream, err := o.generator.Stream(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			answer = g.finish(GenerationCancelled, ctx.Err())
			return
		}
		answer = g.finish(GenerationFailed, asGenerationError(err))
		return
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			o.logger.Debug("close completion stream", zap.Error(cerr))
		}
	}()

	for {
		if ctx.Err() != nil {
			answer = g.finish(GenerationCancelled, ctx.Err())
			return
		}

		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			answer = g.finish(GenerationCompleted, nil)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				answer = g.finish(GenerationCancelled, ctx.Err())
				return
			}
			o.logger.Warn("generation stream failed", zap.Int("delivered_tokens", g.count), zap.Error(err))
			answer = g.finish(GenerationFailed, asGenerationError(err))
			return
		}
		if token == "" {
			continue
		}
		if ctx.Err() != nil {
			answer = g.finish(GenerationCancelled, ctx.Err())
			return
		}

		// 首个token：PENDING → STREAMING
		g.transition(GenerationStreaming)

		select {
		case g.tokens <- token:
			g.appendToken(token)
		case <-ctx.Done():
			answer = g.finish(GenerationCancelled, ctx.Err())
			return
		}
	}
}

func asGenerationError(err error) error {
	if apperrors.IsCode(err, apperrors.ErrCodeGeneration) {
		return err
	}
	return apperrors.NewGenerationError("generation backend failed", err)
}
