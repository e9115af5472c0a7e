package repo

import (
	"context"
)

// Roles of prior chat messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prior message handed to the model as context
type ChatMessage struct {
	Role    string
	Content string
}

// LLMRepo is the language model interface
type LLMRepo interface {
	// Chat returns the model's reply to userMessage given a system prompt and prior messages
	Chat(ctx context.Context, systemPrompt string, history []ChatMessage, userMessage string) (string, error)

	// Speak synthesizes speech for text and returns an opus clip
	Speak(ctx context.Context, text string) ([]byte, error)

	// DescribeImage asks the vision model to describe a local image
	DescribeImage(ctx context.Context, imagePath, prompt string) (string, error)
}
