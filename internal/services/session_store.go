package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionExportPrefix = "rag:session:"
	sessionExportTTL    = 7 * 24 * time.Hour // 7天
)

// 对话角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn 对话中的一轮
type ConversationTurn struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	CitedChunkIDs []string  `json:"cited_chunk_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionExport 导出到Redis的会话
type SessionExport struct {
	SessionID  string             `json:"session_id"`
	Turns      []ConversationTurn `json:"turns"`
	ExportedAt time.Time          `json:"exported_at"`
}

// SessionStore 进程内会话，只有显式 Export 才会持久化
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]ConversationTurn
	redis    redis.UniversalClient
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSessionStore 创建会话存储，client 为 nil 时不支持导出
func NewSessionStore(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = sessionExportTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		sessions: make(map[string][]ConversationTurn),
		redis:    client,
		ttl:      ttl,
		logger:   logger,
	}
}

// NewSessionID 生成会话ID
func NewSessionID() string {
	return uuid.NewString()
}

// Append 追加一轮对话
func (s *SessionStore) Append(sessionID string, turn ConversationTurn) {
	if sessionID == "" {
		return
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turn)
}

// History 返回会话的副本
func (s *SessionStore) History(sessionID string) ([]ConversationTurn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	out := make([]ConversationTurn, len(turns))
	copy(out, turns)
	return out, true
}

// Clear 删除会话
func (s *SessionStore) Clear(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok
}

// Export 将会话写入Redis，返回键名
func (s *SessionStore) Export(ctx context.Context, sessionID string) (string, error) {
	if s.redis == nil {
		return "", apperrors.NewConfigurationError("session export requires redis")
	}
	turns, ok := s.History(sessionID)
	if !ok {
		return "", apperrors.NewNotFoundError("session")
	}

	data, err := json.Marshal(SessionExport{
		SessionID:  sessionID,
		Turns:      turns,
		ExportedAt: time.Now(),
	})
	if err != nil {
		return "", apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "failed to encode session").WithCause(err)
	}

	key := sessionExportPrefix + sessionID
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return "", apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "failed to export session").WithCause(err)
	}

	s.logger.Info("session exported", zap.String("session_id", sessionID), zap.Int("turns", len(turns)))
	return key, nil
}
