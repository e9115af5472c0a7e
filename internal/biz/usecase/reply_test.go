package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
)

func newTestReply(llm *mockLLM, msgs *mockMessages, images repo.ImageRepo, history HistoryReader) *ReplyUsecase {
	return NewReplyUsecase(llm, msgs, images, history, ReplyConfig{
		SystemPrompt:    "You are Kouri.",
		GroupPrompt:     "You are in a group chat.",
		ContextTurns:    5,
		PartInterval:    time.Millisecond,
		ImageSentText:   "给主人你找了一张好看的图片哦~",
		ImageFailedText: "抱歉主人，图片发送失败了...",
	})
}

func TestReplyUsecase_RespondTextSplitsParts(t *testing.T) {
	llm := &mockLLM{reply: "<think>plan the answer</think>早上好$今天（开心地）也要加油＄[2024-05-01 08:00:00] 吃早饭了吗"}
	msgs := &mockMessages{}
	uc := newTestReply(llm, msgs, nil, nil)

	req := &domain.ReplyRequest{ChatID: "oc_1", SenderName: "alice", Message: "早"}
	result, err := uc.RespondText(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"早上好", "今天也要加油", "吃早饭了吗"}, msgs.sentTexts())
	assert.Equal(t, "早", result.Prompt)
	assert.NotContains(t, result.Reply, "think")
	assert.Equal(t, "You are Kouri.", llm.systems[0])
}

func TestReplyUsecase_GroupWrapAndMention(t *testing.T) {
	llm := &mockLLM{reply: "你好呀"}
	msgs := &mockMessages{}
	uc := newTestReply(llm, msgs, nil, nil)

	req := &domain.ReplyRequest{ChatID: "oc_g", SenderName: "bob", IsGroup: true, Message: "hello"}
	result, err := uc.RespondText(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "<用户 bob>\nhello\n</用户>", llm.prompts[0])
	assert.Equal(t, "You are in a group chat.\n\nYou are Kouri.", llm.systems[0])
	assert.Equal(t, []string{"@bob 你好呀"}, msgs.sentTexts())
	assert.Equal(t, "<用户 bob>\nhello\n</用户>", result.Prompt)
}

func TestReplyUsecase_UsesRecentHistory(t *testing.T) {
	history := &mockHistoryRepo{}
	base := time.Now()
	for i, pair := range [][2]string{{"q1", "a1"}, {"q2", "a2"}} {
		turn := domain.NewTurn("oc_1", "alice", pair[0], pair[1], false)
		turn.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, history.SaveTurn(context.Background(), turn))
	}
	llm := &mockLLM{reply: "ok"}
	uc := newTestReply(llm, &mockMessages{}, nil, NewHistoryUsecase(history, 1))

	_, err := uc.RespondText(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "q3"})
	require.NoError(t, err)

	require.Len(t, llm.histories[0], 4)
	assert.Equal(t, repo.ChatMessage{Role: repo.RoleUser, Content: "q1"}, llm.histories[0][0])
	assert.Equal(t, repo.ChatMessage{Role: repo.RoleAssistant, Content: "a2"}, llm.histories[0][3])
}

func TestReplyUsecase_EmptyModelReply(t *testing.T) {
	uc := newTestReply(&mockLLM{reply: "<think>nothing</think>  "}, &mockMessages{}, nil, nil)

	_, err := uc.RespondText(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "hi"})
	assert.Error(t, err)
}

func TestReplyUsecase_ModelError(t *testing.T) {
	msgs := &mockMessages{}
	uc := newTestReply(&mockLLM{err: errBoom}, msgs, nil, nil)

	_, err := uc.RespondText(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "hi"})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, msgs.sentTexts())
}

func TestReplyUsecase_RespondVoice(t *testing.T) {
	llm := &mockLLM{reply: "想你了$[开心]"}
	msgs := &mockMessages{}
	uc := newTestReply(llm, msgs, nil, nil)

	_, err := uc.RespondVoice(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "发语音"})
	require.NoError(t, err)

	assert.Equal(t, 1, msgs.audios)
	assert.Empty(t, msgs.sentTexts())
	assert.Equal(t, []string{"想你了，"}, llm.spoken)
}

func TestReplyUsecase_RespondVoiceFallsBackToText(t *testing.T) {
	llm := &mockLLM{reply: "想你了", speakErr: errBoom}
	msgs := &mockMessages{}
	uc := newTestReply(llm, msgs, nil, nil)

	_, err := uc.RespondVoice(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "发语音"})
	require.NoError(t, err)

	assert.Equal(t, 0, msgs.audios)
	assert.Equal(t, []string{"想你了"}, msgs.sentTexts())
}

func TestReplyUsecase_RespondVoiceInGroupIsText(t *testing.T) {
	llm := &mockLLM{reply: "好的"}
	msgs := &mockMessages{}
	uc := newTestReply(llm, msgs, nil, nil)

	_, err := uc.RespondVoice(context.Background(), &domain.ReplyRequest{ChatID: "oc_g", SenderName: "bob", IsGroup: true, Message: "发语音"})
	require.NoError(t, err)

	assert.Empty(t, llm.spoken)
	assert.Equal(t, []string{"@bob 好的"}, msgs.sentTexts())
}

func TestReplyUsecase_RespondImage(t *testing.T) {
	msgs := &mockMessages{}
	uc := newTestReply(&mockLLM{}, msgs, &mockImages{}, nil)

	result, err := uc.RespondImage(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "来张图"})
	require.NoError(t, err)

	assert.Equal(t, 1, msgs.images)
	assert.Equal(t, []string{"给主人你找了一张好看的图片哦~"}, msgs.sentTexts())
	assert.Equal(t, "给主人你找了一张好看的图片哦~", result.Reply)
}

func TestReplyUsecase_RespondImageUploadFailure(t *testing.T) {
	msgs := &mockMessages{imageErr: errBoom}
	uc := newTestReply(&mockLLM{}, msgs, &mockImages{}, nil)

	result, err := uc.RespondImage(context.Background(), &domain.ReplyRequest{ChatID: "oc_g", SenderName: "bob", IsGroup: true, Message: "来张图"})
	require.NoError(t, err)

	assert.Equal(t, "@bob 抱歉主人，图片发送失败了...", result.Reply)
}

func TestReplyUsecase_RespondImageFetchFailure(t *testing.T) {
	msgs := &mockMessages{}
	uc := newTestReply(&mockLLM{}, msgs, &mockImages{err: errBoom}, nil)

	_, err := uc.RespondImage(context.Background(), &domain.ReplyRequest{ChatID: "oc_1", Message: "来张图"})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, msgs.sentTexts())
}

func TestReplyUsecase_CancelledContextStopsParts(t *testing.T) {
	msgs := &mockMessages{}
	uc := NewReplyUsecase(&mockLLM{reply: "one$two$three"}, msgs, nil, nil, ReplyConfig{PartInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := uc.RespondText(ctx, &domain.ReplyRequest{ChatID: "oc_1", Message: "count"})

	assert.Error(t, err)
	assert.Equal(t, []string{"one"}, msgs.sentTexts())
}

func TestSplitReply(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"single", []string{"single"}},
		{"a$b", []string{"a", "b"}},
		{"a＄ $b", []string{"a", "b"}},
		{"(sigh)", nil},
		{"2024-05-01 08:00:00 morning", []string{"morning"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitReply(tt.in), tt.in)
	}
}

func TestStripReasoning(t *testing.T) {
	assert.Equal(t, "answer", StripReasoning("<think>a</think>\n answer"))
	assert.Equal(t, "plain", StripReasoning("plain"))
}
