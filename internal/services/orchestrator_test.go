package services

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assembledWith(citations ...knowledge.Citation) *knowledge.AssembledContext {
	assembled := &knowledge.AssembledContext{CitationMap: map[int]knowledge.Citation{}}
	for _, c := range citations {
		assembled.CitationMap[c.Position] = c
	}
	return assembled
}

func collect(g *Generation) []string {
	var tokens []string
	for token := range g.Tokens() {
		tokens = append(tokens, token)
	}
	return tokens
}

func TestGenerationState_Transitions(t *testing.T) {
	assert.True(t, GenerationPending.CanTransition(GenerationStreaming))
	assert.True(t, GenerationPending.CanTransition(GenerationCompleted))
	assert.True(t, GenerationStreaming.CanTransition(GenerationCancelled))
	assert.False(t, GenerationStreaming.CanTransition(GenerationPending))
	assert.False(t, GenerationCompleted.CanTransition(GenerationStreaming))
	assert.False(t, GenerationFailed.CanTransition(GenerationCompleted))

	assert.True(t, GenerationCancelled.IsTerminal())
	assert.False(t, GenerationStreaming.IsTerminal())
}

func TestGenerationOrchestrator_Completes(t *testing.T) {
	gen := &scriptedGenerator{tokens: []string{"Grass ", "is ", "green."}}
	orchestrator := NewGenerationOrchestrator(gen, nil, nil)

	citation := knowledge.Citation{Position: 1, Filename: "nature.txt", ChunkID: "doc_1_ab", Score: 0.9}
	g := orchestrator.Generate(context.Background(), "prompt", assembledWith(citation))
	assert.Equal(t, GenerationPending, g.State())

	tokens := collect(g)
	assert.Equal(t, []string{"Grass ", "is ", "green."}, tokens)

	answer := g.Wait()
	require.NotNil(t, answer)
	assert.Equal(t, GenerationCompleted, answer.State)
	assert.Equal(t, "Grass is green.", answer.Text)
	assert.False(t, answer.Incomplete)
	assert.False(t, answer.NoContext)
	assert.Equal(t, 3, answer.Tokens)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "doc_1_ab", answer.Citations[0].ChunkID)
	assert.NoError(t, answer.Err)
	assert.Equal(t, int32(1), gen.closedCount())
}

func TestGenerationOrchestrator_EmptyStreamWithoutContext(t *testing.T) {
	gen := &scriptedGenerator{}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", nil)

	answer := g.Wait()
	assert.Equal(t, GenerationCompleted, answer.State)
	assert.True(t, answer.NoContext)
	assert.Empty(t, answer.Text)
	assert.Empty(t, answer.Citations)
}

func TestGenerationOrchestrator_FailureKeepsPartialOutput(t *testing.T) {
	gen := &scriptedGenerator{
		tokens:    []string{"Grass ", "is ", "green."},
		failAfter: 2,
		failErr:   errors.New("connection reset"),
	}
	citation := knowledge.Citation{Position: 1, Filename: "nature.txt", ChunkID: "c1"}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", assembledWith(citation))

	tokens := collect(g)
	assert.Equal(t, []string{"Grass ", "is "}, tokens)

	answer := g.Wait()
	assert.Equal(t, GenerationFailed, answer.State)
	assert.Equal(t, "Grass is ", answer.Text)
	assert.True(t, answer.Incomplete)
	assert.Empty(t, answer.Citations)
	require.Error(t, answer.Err)
	assert.True(t, apperrors.IsCode(answer.Err, apperrors.ErrCodeGeneration))
	// 不自动重试
	assert.Len(t, gen.prompts, 1)
}

func TestGenerationOrchestrator_BackendPanicFails(t *testing.T) {
	gen := &scriptedGenerator{panicOnOpen: true}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", nil)

	answer := g.Wait()
	require.NotNil(t, answer)
	assert.Equal(t, GenerationFailed, answer.State)
	assert.True(t, answer.Incomplete)
	assert.True(t, apperrors.IsCode(answer.Err, apperrors.ErrCodeGeneration))
	assert.Contains(t, answer.Err.Error(), "backend exploded")
}

func TestGenerationOrchestrator_StreamPanicKeepsPartialOutput(t *testing.T) {
	gen := &scriptedGenerator{tokens: []string{"Grass ", "is ", "green."}, panicAfter: 2}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", nil)

	tokens := collect(g)
	assert.Equal(t, []string{"Grass ", "is "}, tokens)

	answer := g.Wait()
	assert.Equal(t, GenerationFailed, answer.State)
	assert.Equal(t, "Grass is ", answer.Text)
	assert.Equal(t, int32(1), gen.closedCount())
}

func TestGenerationOrchestrator_OpenFailure(t *testing.T) {
	gen := &scriptedGenerator{openErr: apperrors.NewGenerationError("model not found", nil)}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", nil)

	answer := g.Wait()
	assert.Equal(t, GenerationFailed, answer.State)
	assert.True(t, apperrors.IsCode(answer.Err, apperrors.ErrCodeGeneration))
	assert.Equal(t, int32(0), gen.closedCount())
}

func TestGenerationOrchestrator_CancelStopsStream(t *testing.T) {
	gen := &scriptedGenerator{endless: true}
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(context.Background(), "prompt", nil)

	for i := 0; i < 3; i++ {
		select {
		case _, ok := <-g.Tokens():
			require.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("no token received")
		}
	}
	assert.Equal(t, GenerationStreaming, g.State())

	g.Cancel()

	// 取消生效前最多还能收到一个已在途的token
	late := 0
	for range g.Tokens() {
		late++
	}
	assert.LessOrEqual(t, late, 1)

	select {
	case <-g.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not stop after cancel")
	}
	assert.Equal(t, GenerationCancelled, g.State())

	answer := g.Wait()
	assert.Equal(t, GenerationCancelled, answer.State)
	assert.True(t, answer.Incomplete)
	assert.Equal(t, 3+late, answer.Tokens)
	assert.Equal(t, int32(1), gen.closedCount())

	_, open := <-g.Tokens()
	assert.False(t, open)
}

func TestGenerationOrchestrator_CallerContextCancels(t *testing.T) {
	gen := &scriptedGenerator{endless: true}
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGenerationOrchestrator(gen, nil, nil).Generate(ctx, "prompt", nil)

	<-g.Tokens()
	cancel()

	answer := g.Wait()
	assert.Equal(t, GenerationCancelled, answer.State)
	assert.ErrorIs(t, answer.Err, context.Canceled)
}
