package repo

import (
	"context"
)

// MessageRepo is the chat transport used to deliver replies
type MessageRepo interface {
	// SendText sends a text message
	SendText(ctx context.Context, chatID, text string) error

	// SendImage uploads an image and sends it to the chat
	SendImage(ctx context.Context, chatID string, image []byte) error

	// SendAudio uploads an opus clip and sends it as a voice message
	SendAudio(ctx context.Context, chatID string, audio []byte) error
}
