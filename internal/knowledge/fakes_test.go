package knowledge

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode"
)

// keywordEmbedder 按词表计数生成向量，最后一维为常量，避免零向量
type keywordEmbedder struct {
	vocabulary []string
	model      string
	err        error
	calls      int32
}

func newKeywordEmbedder(vocabulary ...string) *keywordEmbedder {
	return &keywordEmbedder{vocabulary: vocabulary, model: "test-model"}
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *keywordEmbedder) vector(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	vector := make([]float32, len(e.vocabulary)+1)
	for _, w := range words {
		for i, v := range e.vocabulary {
			if w == v {
				vector[i]++
			}
		}
	}
	vector[len(e.vocabulary)] = 0.1
	return vector
}

func (e *keywordEmbedder) Dimensions() int { return len(e.vocabulary) + 1 }

func (e *keywordEmbedder) Model() string { return e.model }

func (e *keywordEmbedder) Ready() bool { return true }

func (e *keywordEmbedder) Calls() int { return int(atomic.LoadInt32(&e.calls)) }
