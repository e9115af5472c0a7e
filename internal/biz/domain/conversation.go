package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatType represents the chat type
type ChatType string

const (
	ChatTypeGroup ChatType = "group"
	ChatTypeP2P   ChatType = "p2p"
)

// ChatTypeFromGroup maps the is-group flag to a chat type
func ChatTypeFromGroup(isGroup bool) ChatType {
	if isGroup {
		return ChatTypeGroup
	}
	return ChatTypeP2P
}

// Turn is one exchange stored in conversation history
type Turn struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Reply      string    `json:"reply"`
	IsSystem   bool      `json:"is_system"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTurn creates a history turn with a fresh id
func NewTurn(chatID, senderName, message, reply string, isSystem bool) *Turn {
	return &Turn{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderName: senderName,
		Message:    message,
		Reply:      reply,
		IsSystem:   isSystem,
		CreatedAt:  time.Now(),
	}
}
