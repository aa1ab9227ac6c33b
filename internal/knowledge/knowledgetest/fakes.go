// Package knowledgetest 提供不依赖网络的确定性Embedder，供其他包的测试使用
package knowledgetest

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// KeywordEmbedder 按词表计数生成向量，最后一维为常量
type KeywordEmbedder struct {
	Vocabulary []string
	ModelName  string

	mu    sync.Mutex
	err   error
	calls int
}

// NewKeywordEmbedder 创建关键词Embedder
func NewKeywordEmbedder(vocabulary ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Vocabulary: vocabulary, ModelName: "test-model"}
}

// FailWith 之后的调用都返回 err，传 nil 恢复
func (e *KeywordEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls 已调用次数
func (e *KeywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *KeywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *KeywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.Vector(text)
	}
	return vectors, nil
}

// Vector 计算文本向量
func (e *KeywordEmbedder) Vector(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	vector := make([]float32, len(e.Vocabulary)+1)
	for _, w := range words {
		for i, v := range e.Vocabulary {
			if w == v {
				vector[i]++
			}
		}
	}
	vector[len(e.Vocabulary)] = 0.1
	return vector
}

func (e *KeywordEmbedder) Dimensions() int { return len(e.Vocabulary) + 1 }

func (e *KeywordEmbedder) Model() string { return e.ModelName }

func (e *KeywordEmbedder) Ready() bool { return true }
