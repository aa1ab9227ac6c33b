package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aihub/rag-service/internal/kafka"
)

// scriptedGenerator 按脚本输出token，可在指定位置失败或无限输出
type scriptedGenerator struct {
	tokens    []string
	failAfter int // >0 时输出这么多token后失败
	failErr   error
	openErr   error
	endless   bool
	// panicOnOpen / panicAfter 模拟后端 panic，panicAfter>0 时输出这么多token后panic
	panicOnOpen bool
	panicAfter  int

	mu      sync.Mutex
	prompts []string
	closed  int32
	recvs   int32
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.panicOnOpen {
		panic("backend exploded")
	}
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &scriptedStream{ctx: ctx, gen: g}, nil
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func (g *scriptedGenerator) closedCount() int32 { return atomic.LoadInt32(&g.closed) }

type scriptedStream struct {
	ctx context.Context
	gen *scriptedGenerator
	pos int
}

func (s *scriptedStream) Recv() (string, error) {
	atomic.AddInt32(&s.gen.recvs, 1)
	if s.gen.endless {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(time.Millisecond):
			return "tok ", nil
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.gen.panicAfter > 0 && s.pos >= s.gen.panicAfter {
		panic("stream exploded")
	}
	if s.gen.failAfter > 0 && s.pos >= s.gen.failAfter {
		return "", s.gen.failErr
	}
	if s.pos >= len(s.gen.tokens) {
		return "", io.EOF
	}
	token := s.gen.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *scriptedStream) Close() error {
	atomic.AddInt32(&s.gen.closed, 1)
	return nil
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.DocumentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event kafka.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryArchive 进程内的原始文本归档
type memoryArchive struct {
	mu    sync.Mutex
	texts map[string]string
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{texts: map[string]string{}}
}

func (a *memoryArchive) Put(ctx context.Context, documentID, filename, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts[documentID] = text
	return nil
}

func (a *memoryArchive) Get(ctx context.Context, documentID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text, ok := a.texts[documentID]
	if !ok {
		return "", errors.New("not archived")
	}
	return text, nil
}

func (a *memoryArchive) Delete(ctx context.Context, documentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.texts, documentID)
	return nil
}
