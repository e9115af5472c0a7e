package data

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	llm "github.com/heshi2019/Read-KouriChat/internal/infra/openai"
)

// SpeechConfig selects the speech model and voice
type SpeechConfig struct {
	Model string
	Voice string
}

// llmRepo implements the language model repository
type llmRepo struct {
	chat   *llm.Client
	vision *llm.Client
	speech SpeechConfig
}

// NewLLMRepo creates a new LLM repository. vision may be nil, in which case
// the chat client is used for image descriptions.
func NewLLMRepo(chat, vision *llm.Client, speech SpeechConfig) repo.LLMRepo {
	if vision == nil {
		vision = chat
	}
	if speech.Model == "" {
		speech.Model = string(openai.TTSModel1)
	}
	if speech.Voice == "" {
		speech.Voice = string(openai.VoiceAlloy)
	}
	return &llmRepo{chat: chat, vision: vision, speech: speech}
}

// Chat sends the system prompt, prior messages and the new user message
func (r *llmRepo) Chat(ctx context.Context, systemPrompt string, history []repo.ChatMessage, userMessage string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == repo.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})

	reply, err := r.chat.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to chat with %s: %w", r.chat.Model(), err)
	}
	return reply, nil
}

// Speak synthesizes speech for text
func (r *llmRepo) Speak(ctx context.Context, text string) ([]byte, error) {
	audio, err := r.chat.Speak(ctx, r.speech.Model, r.speech.Voice, text)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	return audio, nil
}

// DescribeImage asks the vision model to describe a local image
func (r *llmRepo) DescribeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	desc, err := r.vision.Describe(ctx, imagePath, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to describe image with %s: %w", r.vision.Model(), err)
	}
	return desc, nil
}
