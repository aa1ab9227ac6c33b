package knowledge

import (
	"strings"
	"unicode"

	apperrors "github.com/aihub/rag-service/internal/errors"
)

// TextChunk 分块结果，Start/End 为原文中的字符（rune）偏移，左闭右开
type TextChunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// boundaryClass 切分点的优先级
type boundaryClass int

const (
	boundaryNone boundaryClass = iota
	boundaryWord
	boundarySentence
	boundaryParagraph
)

// Chunker 文本分块器
type Chunker struct {
	chunkSize int
	overlap   int
	window    int
}

// NewChunker 创建分块器，overlap 必须小于 chunkSize
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperrors.NewConfigurationError("chunk_size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, apperrors.NewConfigurationError("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, apperrors.NewConfigurationError("overlap (%d) must be smaller than chunk_size (%d)", overlap, chunkSize)
	}

	// 在目标长度之前的 1/4 范围内寻找句子或段落边界
	window := chunkSize / 4
	if window < 1 {
		window = 1
	}

	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		window:    window,
	}, nil
}

// ChunkSize 分块大小（字符）
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap 相邻分块重叠的字符数
func (c *Chunker) Overlap() int { return c.overlap }

// Split 将文本切分为有序、相互重叠且完整覆盖原文的分块
// 空白文本返回空结果
func (c *Chunker) Split(text string) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)
	var chunks []TextChunk

	start := 0
	for {
		if total-start <= c.chunkSize {
			chunks = append(chunks, TextChunk{
				Index: len(chunks),
				Text:  string(runes[start:total]),
				Start: start,
				End:   total,
			})
			break
		}

		end := c.findBoundary(runes, start)
		chunks = append(chunks, TextChunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		start = end - c.overlap
	}

	return chunks
}

// findBoundary 在 [hardEnd-window, hardEnd] 内选择切分点：段落 > 句子 > 单词 > 硬切
// 切分点必须大于 start+overlap，保证下一个分块向前推进
func (c *Chunker) findBoundary(runes []rune, start int) int {
	hardEnd := start + c.chunkSize
	lower := hardEnd - c.window
	if minEnd := start + c.overlap + 1; lower < minEnd {
		lower = minEnd
	}

	best, bestClass := hardEnd, boundaryNone
	for p := hardEnd; p >= lower; p-- {
		class := classifyBoundary(runes, p)
		if class > bestClass {
			best, bestClass = p, class
			if class == boundaryParagraph {
				break
			}
		}
	}
	return best
}

// classifyBoundary 判断在位置 p 之前切分属于哪类边界
func classifyBoundary(runes []rune, p int) boundaryClass {
	if p <= 0 || p >= len(runes) {
		return boundaryNone
	}
	prev := runes[p-1]

	if p >= 2 && prev == '\n' && runes[p-2] == '\n' {
		return boundaryParagraph
	}
	if isSentenceEnd(prev) && unicode.IsSpace(runes[p]) {
		return boundarySentence
	}
	if unicode.IsSpace(prev) {
		// 句末标点之后的空白（如 ". " 之后）同样视为句子边界
		q := p - 1
		for q > 0 && unicode.IsSpace(runes[q-1]) && runes[q-1] != '\n' {
			q--
		}
		if q > 0 && isSentenceEnd(runes[q-1]) {
			return boundarySentence
		}
		return boundaryWord
	}
	// 中文句末标点后通常没有空格
	if isCJKSentenceEnd(prev) {
		return boundarySentence
	}
	return boundaryNone
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；':
		return true
	}
	return false
}

func isCJKSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？' || r == '；'
}

// Split 按给定参数切分文本
func Split(text string, chunkSize, overlap int) ([]TextChunk, error) {
	chunker, err := NewChunker(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return chunker.Split(text), nil
}
