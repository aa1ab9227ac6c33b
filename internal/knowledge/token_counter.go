package knowledge

import (
	"strings"
	"unicode"
)

// TokenCounter 估算文本的token数量，用于上下文预算
type TokenCounter interface {
	Count(text string) int
}

// HeuristicTokenCounter 基于字符分类的本地估算，不依赖模型分词器，结果确定
type HeuristicTokenCounter struct{}

// NewHeuristicTokenCounter 创建本地估算计数器
func NewHeuristicTokenCounter() *HeuristicTokenCounter {
	return &HeuristicTokenCounter{}
}

// textStats 文本统计信息
type textStats struct {
	cjkChars     int // 中日韩字符数
	latinChars   int // 英文字母数
	digits       int
	punctuation  int
	whitespace   int
	otherChars   int
	englishWords int
	totalChars   int
}

// 经验系数（近似值）
const (
	cjkTokenRatio         = 1.6
	englishWordRatio      = 1.3
	englishCharRatio      = 0.3
	digitRatio            = 0.8
	punctuationRatio      = 0.5
	otherRatio            = 1.0
	averageEnglishWordLen = 6
)

// Count 估算token数量，空文本为0，非空文本至少为1
func (tc *HeuristicTokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	stats := analyzeText(text)
	estimated := int(float64(stats.cjkChars)*cjkTokenRatio +
		float64(stats.englishWords)*englishWordRatio +
		float64(max(stats.latinChars-stats.englishWords*averageEnglishWordLen, 0))*englishCharRatio +
		float64(stats.digits)*digitRatio +
		float64(stats.punctuation)*punctuationRatio +
		float64(stats.otherChars)*otherRatio)

	return adjustEstimation(estimated, stats)
}

func analyzeText(text string) textStats {
	stats := textStats{}
	for _, r := range text {
		stats.totalChars++
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			stats.cjkChars++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			stats.latinChars++
		case r >= '0' && r <= '9':
			stats.digits++
		case unicode.IsSpace(r):
			stats.whitespace++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			stats.punctuation++
		default:
			stats.otherChars++
		}
	}
	stats.englishWords = countEnglishWords(text)
	return stats
}

// countEnglishWords 统计包含字母且长度大于1的单词
func countEnglishWords(text string) int {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-')
	})

	count := 0
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if strings.IndexFunc(word, func(r rune) bool {
			return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		}) >= 0 {
			count++
		}
	}
	return count
}

// adjustEstimation 边界修正，避免过低或过高估算
func adjustEstimation(estimated int, stats textStats) int {
	if estimated < 1 {
		estimated = 1
	}
	if maxTokens := stats.totalChars * 2; estimated > maxTokens {
		estimated = maxTokens
	}

	// 纯中文文本使用更保守的估算
	if stats.latinChars == 0 && stats.cjkChars > 0 {
		if charBased := int(float64(stats.cjkChars) * 1.8); charBased > estimated {
			estimated = charBased
		}
	}

	// 纯英文文本使用单词数估算
	if stats.cjkChars == 0 && stats.englishWords > 0 {
		if wordBased := int(float64(stats.englishWords) * 1.5); wordBased > estimated {
			estimated = wordBased
		}
	}

	// 字符数的25%作为下限
	if charMin := stats.totalChars / 4; estimated < charMin && stats.totalChars > 10 {
		estimated = charMin
	}
	return estimated
}
