package data

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
)

func newTestHistoryRepo(t *testing.T) *historyRepo {
	t.Helper()
	r, err := NewHistoryRepo(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r.(*historyRepo)
}

func TestHistoryRepo_RecentTurnsChronological(t *testing.T) {
	r := newTestHistoryRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		turn := domain.NewTurn("oc_1", "alice", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), i == 4)
		turn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, r.SaveTurn(ctx, turn))
	}
	other := domain.NewTurn("oc_2", "bob", "elsewhere", "reply", false)
	require.NoError(t, r.SaveTurn(ctx, other))

	turns, err := r.RecentTurns(ctx, "oc_1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q2", turns[0].Message)
	assert.Equal(t, "q4", turns[2].Message)
	assert.True(t, turns[2].IsSystem)
	assert.False(t, turns[0].IsSystem)
	assert.Equal(t, base.Add(4*time.Minute).UnixMilli(), turns[2].CreatedAt.UnixMilli())

	count, err := r.CountTurns(ctx, "oc_1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestHistoryRepo_EmptyChat(t *testing.T) {
	r := newTestHistoryRepo(t)

	turns, err := r.RecentTurns(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	count, err := r.CountTurns(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHistoryRepo_SaveIsIdempotentByID(t *testing.T) {
	r := newTestHistoryRepo(t)
	ctx := context.Background()

	turn := domain.NewTurn("oc_1", "alice", "hi", "hello", false)
	require.NoError(t, r.SaveTurn(ctx, turn))
	turn.Reply = "hello again"
	require.NoError(t, r.SaveTurn(ctx, turn))

	turns, err := r.RecentTurns(ctx, "oc_1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello again", turns[0].Reply)
}
