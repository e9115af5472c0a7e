package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heshi2019/Read-KouriChat/internal/api"
	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
)

type stubBot struct {
	enqueued []string
}

func (b *stubBot) PendingQueues() []domain.QueueStatus {
	return []domain.QueueStatus{{
		Key:          "oc_group_小明",
		ChatID:       "oc_group",
		SenderName:   "小明",
		IsGroup:      true,
		Sender:       "human",
		MessageCount: 3,
		LastUpdate:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
}

func (b *stubBot) IdleStatus() domain.IdleSnapshot {
	return domain.IdleSnapshot{State: domain.IdleStopped, UnansweredCount: 1}
}

func (b *stubBot) RecentHistory(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	return []domain.Turn{{ChatID: chatID, SenderName: "小明", Message: "hi", Reply: "在呢"}}, nil
}

func (b *stubBot) EnqueueSystem(chatID, content string) error {
	b.enqueued = append(b.enqueued, chatID+":"+content)
	return nil
}

func connect(t *testing.T, bot *stubBot) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	httpSrv := httptest.NewServer(api.NewServer(bot, nil, 0).Handler())
	t.Cleanup(httpSrv.Close)

	s := NewServer(NewClient(httpSrv.URL), "test")
	ct, st := mcp.NewInMemoryTransports()

	ss, err := s.server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		require.NotEmpty(t, res.Content)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func TestTools_Listed(t *testing.T) {
	cs := connect(t, &stubBot{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"chatbot_queue_status",
		"chatbot_idle_status",
		"chatbot_recent_history",
		"chatbot_task_schedule",
		"chatbot_enqueue_system",
	}, names)
}

func TestQueueStatusTool(t *testing.T) {
	cs := connect(t, &stubBot{})

	var out QueueStatusOutput
	callTool(t, cs, "chatbot_queue_status", map[string]any{}, &out)
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Queues, 1)
	assert.Equal(t, "oc_group_小明", out.Queues[0].Key)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Queues[0].LastUpdate)
}

func TestIdleStatusTool(t *testing.T) {
	cs := connect(t, &stubBot{})

	var out IdleStatusOutput
	callTool(t, cs, "chatbot_idle_status", map[string]any{}, &out)
	assert.Equal(t, "stopped", out.State)
	assert.Equal(t, 1, out.UnansweredCount)
	assert.Empty(t, out.EndTime)
}

func TestRecentHistoryTool(t *testing.T) {
	cs := connect(t, &stubBot{})

	var out RecentHistoryOutput
	callTool(t, cs, "chatbot_recent_history", map[string]any{"chat_id": "oc_1", "limit": 5}, &out)
	assert.Equal(t, "oc_1", out.ChatID)
	require.Len(t, out.Turns, 1)
	assert.Equal(t, "在呢", out.Turns[0].Reply)

	res := callTool(t, cs, "chatbot_recent_history", map[string]any{"chat_id": ""}, nil)
	assert.True(t, res.IsError)
}

func TestEnqueueSystemTool(t *testing.T) {
	bot := &stubBot{}
	cs := connect(t, bot)

	var out EnqueueSystemOutput
	callTool(t, cs, "chatbot_enqueue_system", map[string]any{"chat_id": "oc_1", "content": "提醒喝水"}, &out)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"oc_1:提醒喝水"}, bot.enqueued)

	out = EnqueueSystemOutput{}
	callTool(t, cs, "chatbot_enqueue_system", map[string]any{"chat_id": "oc_1", "content": ""}, &out)
	assert.False(t, out.Success)
}

func TestTaskScheduleTool_NoTasks(t *testing.T) {
	cs := connect(t, &stubBot{})

	var out TaskScheduleOutput
	callTool(t, cs, "chatbot_task_schedule", map[string]any{}, &out)
	assert.Empty(t, out.Tasks)
}

func TestClient_Health(t *testing.T) {
	httpSrv := httptest.NewServer(api.NewServer(&stubBot{}, nil, 0).Handler())
	defer httpSrv.Close()

	require.NoError(t, NewClient(httpSrv.URL+"/").Health(context.Background()))

	httpSrv.Close()
	assert.Error(t, NewClient(httpSrv.URL).Health(context.Background()))
}
