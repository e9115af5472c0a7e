package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
)

type fakeGateway struct {
	mu          sync.Mutex
	infoCalls   int
	downloadErr error
}

func (f *fakeGateway) OnMessage(handler feishu.MessageHandler) {}
func (f *fakeGateway) Start(ctx context.Context) error { return nil }
func (f *fakeGateway) Stop() {}

func (f *fakeGateway) DownloadImage(ctx context.Context, messageID, imageKey string) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	return "/tmp/" + imageKey + ".png", nil
}

func (f *fakeGateway) GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error) {
	return []*feishu.ChatMember{{MemberID: "ou_ming", Name: "小明"}}, nil
}

func (f *fakeGateway) GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	return &feishu.ChatInfo{ChatID: chatID, Name: "家人群", ChatType: "group"}, nil
}

type captureHandler struct {
	mu   sync.Mutex
	msgs []*domain.InboundMessage
}

func (c *captureHandler) OnMessageReceived(ctx context.Context, msg *domain.InboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func groupMessage(id, content string) *feishu.Message {
	return &feishu.Message{
		ChatID:     "oc_group",
		MsgID:      id,
		MsgType:    "text",
		ChatType:   "group",
		Content:    content,
		Sender:     &feishu.Sender{SenderID: "ou_ming", SenderType: "user"},
		CreateTime: 1700000000000,
	}
}

func TestHandleMessage_ConvertsGroupMessage(t *testing.T) {
	gw := &fakeGateway{}
	h := &captureHandler{}
	s := NewFeishuServer(gw, h, "Kouri")

	s.handleMessage(groupMessage("om_1", "@Kouri  在干嘛呢"))

	require.Len(t, h.msgs, 1)
	msg := h.msgs[0]
	assert.Equal(t, "在干嘛呢", msg.Content)
	assert.True(t, msg.MentionsBot)
	assert.True(t, msg.IsGroup())
	assert.Equal(t, "小明", msg.SenderName)
	assert.Equal(t, "家人群", msg.ChatName)
	assert.Equal(t, time.UnixMilli(1700000000000), msg.CreateTime)
}

func TestHandleMessage_Dedupes(t *testing.T) {
	gw := &fakeGateway{}
	h := &captureHandler{}
	s := NewFeishuServer(gw, h, "Kouri")

	now := time.Now()
	s.now = func() time.Time { return now }

	s.handleMessage(groupMessage("om_1", "hi"))
	s.handleMessage(groupMessage("om_1", "hi"))
	assert.Len(t, h.msgs, 1)

	// Seen ids expire
	now = now.Add(seenTTL + time.Second)
	s.handleMessage(groupMessage("om_1", "hi"))
	assert.Len(t, h.msgs, 2)
}

func TestDirectory_Cached(t *testing.T) {
	gw := &fakeGateway{}
	s := NewFeishuServer(gw, &captureHandler{}, "")

	s.handleMessage(groupMessage("om_1", "a"))
	s.handleMessage(groupMessage("om_2", "b"))
	assert.Equal(t, 1, gw.infoCalls)
}

func TestConvert_ImageDownloadFailureSkipped(t *testing.T) {
	gw := &fakeGateway{downloadErr: errors.New("forbidden")}
	s := NewFeishuServer(gw, &captureHandler{}, "")

	msg := groupMessage("om_1", "")
	msg.ImageKeys = []string{"img_1"}
	assert.Empty(t, s.convert(context.Background(), msg).ImagePaths)

	gw.downloadErr = nil
	assert.Equal(t, []string{"/tmp/img_1.png"}, s.convert(context.Background(), msg).ImagePaths)
}

func TestStripMention(t *testing.T) {
	text, ok := stripMention("@Kouri 早上好 @Kouri", "Kouri")
	assert.True(t, ok)
	assert.Equal(t, "早上好", text)

	text, ok = stripMention("早上好", "Kouri")
	assert.False(t, ok)
	assert.Equal(t, "早上好", text)
}
