package services

// GenerationState 一次问答生成的状态
type GenerationState string

const (
	GenerationPending   GenerationState = "PENDING"
	GenerationStreaming GenerationState = "STREAMING"
	GenerationCompleted GenerationState = "COMPLETED"
	GenerationFailed    GenerationState = "FAILED"
	GenerationCancelled GenerationState = "CANCELLED"
)

// 状态转换规则
// PENDING 可以直接结束：后端返回空流、首个token前出错或被取消
var generationTransitions = map[GenerationState][]GenerationState{
	GenerationPending: {
		GenerationStreaming,
		GenerationCompleted,
		GenerationFailed,
		GenerationCancelled,
	},
	GenerationStreaming: {
		GenerationCompleted,
		GenerationFailed,
		GenerationCancelled,
	},
}

// CanTransition 检查是否可以进行状态转换
func (s GenerationState) CanTransition(to GenerationState) bool {
	for _, next := range generationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s GenerationState) IsTerminal() bool {
	return len(generationTransitions[s]) == 0
}

func (s GenerationState) String() string {
	return string(s)
}
