package knowledge

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/aihub/rag-service/internal/errors"
)

const contextBlockSeparator = "\n\n"

// Citation 上下文中某个位置对应的来源
type Citation struct {
	Position   int     `json:"position"`
	Filename   string  `json:"filename"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// AssembledContext 拼接后的上下文
type AssembledContext struct {
	Text string `json:"text"`
	// CitationMap 上下文块序号（从1开始）→ 来源
	CitationMap map[int]Citation `json:"citation_map"`
	Tokens      int              `json:"tokens"`
	Skipped     int              `json:"skipped"`
}

// Empty 没有任何可用上下文
func (a *AssembledContext) Empty() bool {
	return a == nil || len(a.CitationMap) == 0
}

// Citations 按位置排序的引用列表
func (a *AssembledContext) Citations() []Citation {
	if a == nil {
		return nil
	}
	citations := make([]Citation, 0, len(a.CitationMap))
	for _, c := range a.CitationMap {
		citations = append(citations, c)
	}
	sort.Slice(citations, func(i, j int) bool {
		return citations[i].Position < citations[j].Position
	})
	return citations
}

// ContextAssembler 在token预算内拼接检索结果
type ContextAssembler struct {
	counter TokenCounter
}

// NewContextAssembler 创建上下文拼接器
func NewContextAssembler(counter TokenCounter) *ContextAssembler {
	if counter == nil {
		counter = NewHeuristicTokenCounter()
	}
	return &ContextAssembler{counter: counter}
}

// formatBlock 上下文块格式：[n] From 文件名:\n内容
func formatBlock(position int, match SearchMatch) string {
	return fmt.Sprintf("[%d] From %s:\n%s", position, match.Chunk.Filename, strings.TrimSpace(match.Chunk.Text))
}

// Assemble 按分数降序贪心加入分块，分块要么完整加入要么跳过
// 放不下的分块被跳过，继续尝试后面更短的分块
func (a *ContextAssembler) Assemble(result *RetrievalResult, maxContextTokens int) (*AssembledContext, error) {
	if maxContextTokens <= 0 {
		return nil, apperrors.NewConfigurationError("context token budget must be positive, got %d", maxContextTokens)
	}

	assembled := &AssembledContext{CitationMap: make(map[int]Citation)}
	if result.Empty() {
		return assembled, nil
	}

	ordered := make([]SearchMatch, len(result.Matches))
	copy(ordered, result.Matches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	separatorCost := a.counter.Count(contextBlockSeparator)
	var blocks []string
	used := 0
	for _, match := range ordered {
		position := len(blocks) + 1
		block := formatBlock(position, match)
		cost := a.counter.Count(block)
		if len(blocks) > 0 {
			cost += separatorCost
		}
		if used+cost > maxContextTokens {
			assembled.Skipped++
			continue
		}

		blocks = append(blocks, block)
		used += cost
		assembled.CitationMap[position] = Citation{
			Position:   position,
			Filename:   match.Chunk.Filename,
			ChunkID:    match.Chunk.ID,
			DocumentID: match.Chunk.DocumentID,
			Score:      match.Score,
		}
	}

	assembled.Text = strings.Join(blocks, contextBlockSeparator)
	assembled.Tokens = used
	return assembled, nil
}
