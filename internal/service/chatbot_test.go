package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heshi2019/Read-KouriChat/internal/biz"
	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/biz/usecase"
)

// Mock implementations

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	describe string
	prompts  []string
	images   []string
}

func (f *fakeLLM) Chat(ctx context.Context, systemPrompt string, history []repo.ChatMessage, userMessage string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, userMessage)
	return f.reply, nil
}

func (f *fakeLLM) Speak(ctx context.Context, text string) ([]byte, error) {
	return []byte("OggS"), nil
}

func (f *fakeLLM) DescribeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, imagePath)
	if f.describe == "" {
		return "", errors.New("vision unavailable")
	}
	return f.describe, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeMessages struct {
	mu    sync.Mutex
	texts map[string][]string
}

func (f *fakeMessages) SendText(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = make(map[string][]string)
	}
	f.texts[chatID] = append(f.texts[chatID], text)
	return nil
}

func (f *fakeMessages) SendImage(ctx context.Context, chatID string, image []byte) error { return nil }
func (f *fakeMessages) SendAudio(ctx context.Context, chatID string, audio []byte) error { return nil }

func (f *fakeMessages) sent(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chatID]...)
}

type fakeHistory struct {
	mu    sync.Mutex
	turns []domain.Turn
}

func (f *fakeHistory) SaveTurn(ctx context.Context, turn *domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, *turn)
	return nil
}

func (f *fakeHistory) RecentTurns(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Turn
	for _, t := range f.turns {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeHistory) CountTurns(ctx context.Context, chatID string) (int, error) {
	turns, _ := f.RecentTurns(ctx, chatID, 0)
	return len(turns), nil
}

func (f *fakeHistory) Close() error { return nil }

type fakeLinks struct{}

func (fakeLinks) DetectLinks(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "https://") {
			out = append(out, field)
		}
	}
	return out
}

func (fakeLinks) ExtractContent(ctx context.Context, url string) (string, error) {
	return "page body", nil
}

type testBot struct {
	svc      *ChatbotService
	llm      *fakeLLM
	messages *fakeMessages
	history  *fakeHistory
}

func newTestBot(t *testing.T, timeout time.Duration, listen ...string) *testBot {
	t.Helper()
	llm := &fakeLLM{reply: "在呢"}
	messages := &fakeMessages{}
	history := &fakeHistory{}

	uc := biz.NewUsecases(biz.Repos{
		Message: messages,
		History: history,
		LLM:     llm,
		Link:    fakeLinks{},
	}, biz.Config{
		Queue:      usecase.QueueConfig{Timeout: timeout},
		Idle:       usecase.IdleConfig{MinHours: 5, MaxHours: 6},
		Reply:      usecase.ReplyConfig{PartInterval: time.Millisecond},
		ListenList: listen,
	})

	svc := NewChatbotService(uc, llm, fakeLinks{}, ChatbotConfig{})
	svc.Start()
	t.Cleanup(func() { svc.Shutdown(false) })

	return &testBot{svc: svc, llm: llm, messages: messages, history: history}
}

func privateMessage(chatID, content string) *domain.InboundMessage {
	return &domain.InboundMessage{
		ID:         "om_1",
		ChatID:     chatID,
		ChatType:   domain.ChatTypeP2P,
		SenderID:   "ou_1",
		SenderName: "小明",
		Content:    content,
	}
}

func TestOnMessageReceived_EmptyChatID(t *testing.T) {
	bot := newTestBot(t, time.Hour)
	err := bot.svc.OnMessageReceived(context.Background(), privateMessage("", "hi"))
	assert.ErrorIs(t, err, usecase.ErrEmptyChatID)
}

func TestOnMessageReceived_Filtered(t *testing.T) {
	bot := newTestBot(t, time.Hour, "oc_allowed")
	ctx := context.Background()

	err := bot.svc.OnMessageReceived(ctx, privateMessage("oc_other", "hi"))
	assert.ErrorIs(t, err, ErrNotListening)

	group := privateMessage("oc_allowed", "大家好")
	group.ChatType = domain.ChatTypeGroup
	err = bot.svc.OnMessageReceived(ctx, group)
	assert.ErrorIs(t, err, ErrNotListening)

	group.MentionsBot = true
	require.NoError(t, bot.svc.OnMessageReceived(ctx, group))
	require.Len(t, bot.svc.PendingQueues(), 1)
	assert.Equal(t, "oc_allowed_小明", bot.svc.PendingQueues()[0].Key)
}

func TestOnMessageReceived_RepliesAfterQuietPeriod(t *testing.T) {
	bot := newTestBot(t, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, bot.svc.OnMessageReceived(ctx, privateMessage("oc_1", "早上好")))
	require.NoError(t, bot.svc.OnMessageReceived(ctx, privateMessage("oc_1", "在吗")))

	assert.Eventually(t, func() bool {
		return len(bot.messages.sent("oc_1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	prompt := bot.llm.lastPrompt()
	assert.Contains(t, prompt, "早上好\n在吗")
	assert.Equal(t, []string{"在呢"}, bot.messages.sent("oc_1"))

	assert.Eventually(t, func() bool {
		turns, err := bot.svc.RecentHistory(ctx, "oc_1", 10)
		return err == nil && len(turns) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnMessageReceived_ImageRecognition(t *testing.T) {
	bot := newTestBot(t, time.Hour)
	bot.llm.describe = "一只橘猫趴在沙发上"

	msg := privateMessage("oc_1", "看看")
	msg.ImagePaths = []string{"/tmp/a.png"}
	require.NoError(t, bot.svc.OnMessageReceived(context.Background(), msg))

	pending := bot.svc.PendingQueues()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].MessageCount)
	assert.Equal(t, []string{"/tmp/a.png"}, bot.llm.images)
}

func TestOnMessageReceived_ImageOnlyRecognitionFailure(t *testing.T) {
	bot := newTestBot(t, time.Hour)

	msg := privateMessage("oc_1", "")
	msg.ImagePaths = []string{"/tmp/a.png"}
	require.NoError(t, bot.svc.OnMessageReceived(context.Background(), msg))

	assert.Empty(t, bot.svc.PendingQueues())
}

func TestOnMessageReceived_DetectsLinks(t *testing.T) {
	bot := newTestBot(t, time.Hour)

	msg := privateMessage("oc_1", "看这个 https://example.com/post")
	require.NoError(t, bot.svc.OnMessageReceived(context.Background(), msg))

	pending := bot.svc.PendingQueues()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].HasLink)
}

func TestEnqueueSystem(t *testing.T) {
	bot := newTestBot(t, time.Hour)

	require.NoError(t, bot.svc.EnqueueSystem("oc_1", "提醒主人喝水"))

	pending := bot.svc.PendingQueues()
	require.Len(t, pending, 1)
	assert.Equal(t, "system", pending[0].Sender)
	assert.Equal(t, domain.SystemSenderName, pending[0].SenderName)
	assert.Equal(t, domain.IdleArmed, bot.svc.IdleStatus().State)
}

func TestShutdown_RejectsLaterMessages(t *testing.T) {
	bot := newTestBot(t, time.Hour)
	require.NoError(t, bot.svc.OnMessageReceived(context.Background(), privateMessage("oc_1", "hi")))

	bot.svc.Shutdown(true)

	assert.Empty(t, bot.svc.PendingQueues())
	assert.Equal(t, domain.IdleStopped, bot.svc.IdleStatus().State)
	err := bot.svc.OnMessageReceived(context.Background(), privateMessage("oc_1", "still there?"))
	assert.ErrorIs(t, err, usecase.ErrQueueClosed)
}
