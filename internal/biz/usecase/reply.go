package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// HistoryReader loads recent turns for prompt context
type HistoryReader interface {
	Recent(ctx context.Context, chatID string, limit int) ([]domain.Turn, error)
}

// ReplyConfig configures reply generation and delivery
type ReplyConfig struct {
	SystemPrompt string
	GroupPrompt  string
	// ContextTurns is how many stored turns are sent as prior conversation
	ContextTurns int
	// PartInterval paces the parts of a split reply
	PartInterval    time.Duration
	ImageSentText   string
	ImageFailedText string
}

var (
	thinkEndMarker = "</think>"
	asideRe        = regexp.MustCompile(`[（(][^（）()]*[）)]`)
	timestampRe    = regexp.MustCompile(`\[?\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\]?`)
	bracketRe      = regexp.MustCompile(`\[[^\]]*\]`)
)

// ReplyUsecase asks the model for a reply and delivers it as text, voice or image
type ReplyUsecase struct {
	llm      repo.LLMRepo
	messages repo.MessageRepo
	images   repo.ImageRepo
	history  HistoryReader
	cfg      ReplyConfig
	logger   *slog.Logger
}

// NewReplyUsecase creates the responder. images and history may be nil.
func NewReplyUsecase(llm repo.LLMRepo, messages repo.MessageRepo, images repo.ImageRepo, history HistoryReader, cfg ReplyConfig) *ReplyUsecase {
	if cfg.PartInterval <= 0 {
		cfg.PartInterval = 3 * time.Second
	}
	return &ReplyUsecase{
		llm:      llm,
		messages: messages,
		images:   images,
		history:  history,
		cfg:      cfg,
		logger:   logging.ForComponent(logging.CompReply),
	}
}

// RespondText generates a reply and sends it as one or more text messages
func (uc *ReplyUsecase) RespondText(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error) {
	prompt, reply, err := uc.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := uc.sendParts(ctx, req.ChatID, reply); err != nil {
		return nil, err
	}
	return &domain.ReplyResult{Prompt: prompt, Reply: reply}, nil
}

// RespondVoice generates a reply and sends it as audio in private chats.
// Groups, and any synthesis or upload failure, fall back to text.
func (uc *ReplyUsecase) RespondVoice(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error) {
	prompt, reply, err := uc.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &domain.ReplyResult{Prompt: prompt, Reply: reply}

	if !req.IsGroup {
		speech := CleanForSpeech(reply)
		if speech != "" {
			audio, err := uc.llm.Speak(ctx, speech)
			if err == nil {
				err = uc.messages.SendAudio(ctx, req.ChatID, audio)
			}
			if err == nil {
				uc.logger.Info("voice_sent", slog.String("chat_id", req.ChatID), slog.Int("bytes", len(audio)))
				return result, nil
			}
			uc.logger.Warn("voice_failed_fallback_text",
				slog.String("chat_id", req.ChatID),
				slog.String("error", err.Error()))
		}
	}

	if err := uc.sendParts(ctx, req.ChatID, reply); err != nil {
		return nil, err
	}
	return result, nil
}

// RespondImage sends a random picture followed by a caption
func (uc *ReplyUsecase) RespondImage(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error) {
	if uc.images == nil {
		return nil, fmt.Errorf("random image source not configured")
	}
	img, err := uc.images.RandomImage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch random image: %w", err)
	}

	caption := uc.cfg.ImageSentText
	if err := uc.messages.SendImage(ctx, req.ChatID, img); err != nil {
		uc.logger.Warn("image_send_failed",
			slog.String("chat_id", req.ChatID),
			slog.String("error", err.Error()))
		caption = uc.cfg.ImageFailedText
	}
	if req.IsGroup {
		caption = "@" + req.SenderName + " " + caption
	}
	if err := uc.messages.SendText(ctx, req.ChatID, caption); err != nil {
		return nil, fmt.Errorf("failed to send image caption: %w", err)
	}
	return &domain.ReplyResult{Prompt: WrapGroupMessage(req), Reply: caption}, nil
}

// generate returns the prompt sent to the model and the cleaned-up reply
func (uc *ReplyUsecase) generate(ctx context.Context, req *domain.ReplyRequest) (string, string, error) {
	prompt := WrapGroupMessage(req)

	systemPrompt := uc.cfg.SystemPrompt
	if req.IsGroup && uc.cfg.GroupPrompt != "" {
		systemPrompt = uc.cfg.GroupPrompt + "\n\n" + systemPrompt
	}

	raw, err := uc.llm.Chat(ctx, systemPrompt, uc.priorMessages(ctx, req.ChatID), prompt)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate reply: %w", err)
	}

	reply := StripReasoning(raw)
	if reply == "" {
		return "", "", fmt.Errorf("model returned an empty reply")
	}
	if req.IsGroup {
		reply = "@" + req.SenderName + " " + reply
	}
	return prompt, reply, nil
}

// priorMessages converts the stored turns of a chat into prior chat messages
func (uc *ReplyUsecase) priorMessages(ctx context.Context, chatID string) []repo.ChatMessage {
	if uc.history == nil || uc.cfg.ContextTurns <= 0 {
		return nil
	}
	turns, err := uc.history.Recent(ctx, chatID, uc.cfg.ContextTurns)
	if err != nil {
		uc.logger.Warn("history_load_failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()))
		return nil
	}

	messages := make([]repo.ChatMessage, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages,
			repo.ChatMessage{Role: repo.RoleUser, Content: t.Message},
			repo.ChatMessage{Role: repo.RoleAssistant, Content: t.Reply})
	}
	return messages
}

// sendParts delivers a reply part by part, pacing consecutive parts
func (uc *ReplyUsecase) sendParts(ctx context.Context, chatID, reply string) error {
	parts := SplitReply(reply)
	if len(parts) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(uc.cfg.PartInterval), 1)
	for i, part := range parts {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("reply interrupted after %d of %d parts: %w", i, len(parts), err)
		}
		if err := uc.messages.SendText(ctx, chatID, part); err != nil {
			return fmt.Errorf("failed to send reply part %d: %w", i+1, err)
		}
	}
	uc.logger.Info("reply_sent", slog.String("chat_id", chatID), slog.Int("parts", len(parts)))
	return nil
}

// WrapGroupMessage tags group text with its author so the model can tell speakers apart
func WrapGroupMessage(req *domain.ReplyRequest) string {
	if !req.IsGroup {
		return req.Message
	}
	return "<用户 " + req.SenderName + ">\n" + req.Message + "\n</用户>"
}

// StripReasoning drops everything up to the last reasoning end marker
func StripReasoning(reply string) string {
	if i := strings.LastIndex(reply, thinkEndMarker); i >= 0 {
		reply = reply[i+len(thinkEndMarker):]
	}
	return strings.TrimSpace(reply)
}

// SplitReply splits a reply on $ separators and cleans each part
func SplitReply(reply string) []string {
	reply = strings.ReplaceAll(reply, "＄", "$")
	var parts []string
	for _, p := range strings.Split(reply, "$") {
		if p = CleanPart(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// CleanPart removes parenthesised asides and timestamps
func CleanPart(text string) string {
	text = asideRe.ReplaceAllString(text, "")
	text = timestampRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// CleanForSpeech flattens a reply into text suitable for synthesis
func CleanForSpeech(reply string) string {
	reply = strings.ReplaceAll(reply, "＄", "$")
	reply = strings.ReplaceAll(reply, "$", "，")
	reply = bracketRe.ReplaceAllString(reply, "")
	reply = asideRe.ReplaceAllString(reply, "")
	return strings.TrimSpace(reply)
}
