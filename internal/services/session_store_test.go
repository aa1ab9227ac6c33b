package services

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_History(t *testing.T) {
	store := NewSessionStore(nil, 0, nil)
	id := NewSessionID()

	store.Append(id, ConversationTurn{Role: RoleUser, Content: "What color is grass?"})
	store.Append(id, ConversationTurn{Role: RoleAssistant, Content: "Green.", CitedChunkIDs: []string{"c1"}})
	store.Append("", ConversationTurn{Role: RoleUser, Content: "ignored"})

	turns, ok := store.History(id)
	require.True(t, ok)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, []string{"c1"}, turns[1].CitedChunkIDs)
	assert.False(t, turns[0].CreatedAt.IsZero())

	// 返回副本
	turns[0].Content = "changed"
	again, _ := store.History(id)
	assert.Equal(t, "What color is grass?", again[0].Content)

	assert.True(t, store.Clear(id))
	assert.False(t, store.Clear(id))
	_, ok = store.History(id)
	assert.False(t, ok)
}

func TestSessionStore_Export(t *testing.T) {
	store := NewSessionStore(nil, 0, nil)
	_, err := store.Export(context.Background(), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	store = NewSessionStore(client, time.Hour, nil)

	_, err = store.Export(context.Background(), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	store.Append("s1", ConversationTurn{Role: RoleUser, Content: "hi"})
	_, err = store.Export(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInternalServer))
}
