package services

import (
	"fmt"
	"strings"

	"github.com/aihub/rag-service/internal/knowledge"
)

const groundedInstruction = "Based on the following context, answer the user's question. \n" +
	"If the context doesn't contain relevant information, say so."

// BuildPrompt 组装生成用的prompt，没有上下文时只包含问题
func BuildPrompt(question string, assembled *knowledge.AssembledContext) string {
	if assembled.Empty() {
		return fmt.Sprintf("User Question: %s\n\nAnswer:", question)
	}
	return fmt.Sprintf("%s\n\nContext:\n%s\n\nUser Question: %s\n\nAnswer:", groundedInstruction, assembled.Text, question)
}

// SourcesFooter 回答末尾的来源列表，没有引用时为空字符串
func SourcesFooter(citations []knowledge.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:")
	for _, c := range citations {
		fmt.Fprintf(&b, "\n- %s (score: %.3f)", c.Filename, c.Score)
	}
	return b.String()
}
