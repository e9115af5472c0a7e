package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
)

// feishuSender is the part of the Feishu client used for delivery
type feishuSender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID string, image []byte) error
	SendAudio(ctx context.Context, chatID string, audio []byte) error
}

var _ feishuSender = (*feishu.Client)(nil)

// feishuRepo implements the Feishu message repository
type feishuRepo struct {
	client feishuSender
}

// NewFeishuRepo creates a new Feishu repository
func NewFeishuRepo(client *feishu.Client) repo.MessageRepo {
	return &feishuRepo{client: client}
}

// SendText sends a text message; blank text is skipped
func (r *feishuRepo) SendText(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return r.client.SendText(ctx, chatID, text)
}

// SendImage uploads and sends an image
func (r *feishuRepo) SendImage(ctx context.Context, chatID string, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty image")
	}
	return r.client.SendImage(ctx, chatID, image)
}

// SendAudio uploads and sends a voice clip
func (r *feishuRepo) SendAudio(ctx context.Context, chatID string, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("empty audio")
	}
	return r.client.SendAudio(ctx, chatID, audio)
}
