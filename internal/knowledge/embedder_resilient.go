package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy 重试策略：首次调用之后最多重试 MaxRetries 次，退避时间指数增长
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy 默认重试2次，初始退避200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: 200 * time.Millisecond}
}

// ResilientEmbedder 为Embedder增加限流、熔断和有限重试
type ResilientEmbedder struct {
	inner   Embedder
	policy  RetryPolicy
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewResilientEmbedder 创建带重试的Embedder，limiter 和 breaker 可为空
func NewResilientEmbedder(inner Embedder, policy RetryPolicy, limiter *rate.Limiter, breaker *CircuitBreaker, logger *zap.Logger) *ResilientEmbedder {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientEmbedder{
		inner:   inner,
		policy:  policy,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.withRetry(ctx, func() error {
		var err error
		vector, err = r.inner.Embed(ctx, text)
		return err
	})
	return vector, err
}

func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.withRetry(ctx, func() error {
		var err error
		vectors, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	return vectors, err
}

func (r *ResilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *ResilientEmbedder) Model() string { return r.inner.Model() }

func (r *ResilientEmbedder) Ready() bool {
	if r.breaker != nil && r.breaker.GetState() == StateOpen {
		return false
	}
	return r.inner.Ready()
}

// withRetry 仅对 EmbeddingServiceError 重试，配置类错误立即返回
func (r *ResilientEmbedder) withRetry(ctx context.Context, fn func() error) error {
	attempts := r.policy.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := r.policy.Backoff << (attempt - 1)
			r.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return apperrors.NewEmbeddingServiceError("embedding cancelled while backing off", ctx.Err())
			case <-timer.C:
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return apperrors.NewEmbeddingServiceError("embedding rate limiter wait failed", err)
			}
		}

		err := r.call(fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}

	return apperrors.NewEmbeddingServiceError(fmt.Sprintf("embedding failed after %d attempts", attempts), lastErr)
}

func (r *ResilientEmbedder) call(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	err := r.breaker.Call(fn)
	if errors.Is(err, ErrCircuitOpen) {
		return apperrors.NewEmbeddingServiceError("embedding backend unavailable", err)
	}
	return err
}
