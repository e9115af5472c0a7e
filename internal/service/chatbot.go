package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz"
	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/biz/usecase"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// ErrNotListening is returned for messages the filter rejects
var ErrNotListening = errors.New("chat is not in the listen list or bot not mentioned")

// ChatbotConfig configures inbound handling
type ChatbotConfig struct {
	// ImagePrompt is sent to the vision model with every inbound image
	ImagePrompt string
	// VisionTimeout bounds one image description
	VisionTimeout time.Duration
}

// ChatbotService accepts inbound chat messages and exposes the bot state
type ChatbotService struct {
	uc     *biz.Usecases
	llm    repo.LLMRepo
	links  repo.LinkRepo
	cfg    ChatbotConfig
	logger *slog.Logger
}

// NewChatbotService creates the service. links may be nil to disable link detection.
func NewChatbotService(uc *biz.Usecases, llm repo.LLMRepo, links repo.LinkRepo, cfg ChatbotConfig) *ChatbotService {
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = "请描述这个图片"
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = 60 * time.Second
	}
	return &ChatbotService{
		uc:     uc,
		llm:    llm,
		links:  links,
		cfg:    cfg,
		logger: logging.ForComponent(logging.CompBot),
	}
}

// Start starts the background workers and arms the idle countdown
func (s *ChatbotService) Start() {
	s.uc.History.Start()
	s.uc.Idle.Start()
	s.logger.Info("chatbot_started", slog.Duration("queue_timeout", s.uc.Queue.Timeout()))
}

// Shutdown stops the timers. Pending queues are discarded; drain controls
// whether buffered history writes are flushed or abandoned.
func (s *ChatbotService) Shutdown(drain bool) {
	s.uc.Idle.Stop()
	dropped := s.uc.Queue.Shutdown()
	s.uc.History.Close(drain)
	s.logger.Info("chatbot_stopped",
		slog.Int("queues_dropped", dropped),
		slog.Int64("history_dropped", s.uc.History.Dropped()))
}

// OnMessageReceived filters a message, describes its images and enqueues it
func (s *ChatbotService) OnMessageReceived(ctx context.Context, msg *domain.InboundMessage) error {
	if msg.ChatID == "" {
		return usecase.ErrEmptyChatID
	}
	if !s.uc.Filter.ShouldRespond(msg) {
		s.logger.Debug("message_filtered",
			slog.String("chat_id", msg.ChatID),
			slog.Bool("group", msg.IsGroup()),
			slog.Bool("mentions_bot", msg.MentionsBot))
		return ErrNotListening
	}

	content := strings.TrimSpace(msg.Content)
	recognized := false
	if msg.HasImages() {
		if desc := s.describeImages(ctx, msg.ImagePaths); desc != "" {
			if content == "" {
				content = desc
			} else {
				content = content + " " + desc
			}
			recognized = true
		}
	}
	if content == "" {
		s.logger.Debug("message_empty", slog.String("msg_id", msg.ID))
		return nil
	}

	var urls []string
	if s.links != nil {
		urls = s.links.DetectLinks(content)
	}

	meta := domain.QueueMetadata{
		ChatID:             msg.ChatID,
		SenderName:         msg.DisplayName(),
		Username:           msg.Username,
		IsGroup:            msg.IsGroup(),
		IsImageRecognition: recognized,
		Sender:             domain.SenderHuman,
	}
	if meta.Username == "" {
		meta.Username = meta.SenderName
	}

	s.logger.Info("message_received",
		slog.String("chat_id", msg.ChatID),
		slog.String("sender", meta.SenderName),
		slog.Bool("group", meta.IsGroup),
		slog.Bool("image", recognized),
		slog.Int("links", len(urls)))

	return s.uc.Queue.Enqueue(meta, content, len(urls) > 0, urls)
}

// describeImages joins the descriptions of every image that could be recognized
func (s *ChatbotService) describeImages(ctx context.Context, paths []string) string {
	var parts []string
	for _, path := range paths {
		vctx, cancel := context.WithTimeout(ctx, s.cfg.VisionTimeout)
		desc, err := s.llm.DescribeImage(vctx, path, s.cfg.ImagePrompt)
		cancel()
		if err != nil {
			s.logger.Warn("image_recognition_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		if desc = strings.TrimSpace(desc); desc != "" {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, " ")
}

// EnqueueSystem pushes a bot-generated instruction into a private conversation.
// It does not count as conversation activity.
func (s *ChatbotService) EnqueueSystem(chatID, content string) error {
	meta := domain.QueueMetadata{
		ChatID:     chatID,
		SenderName: domain.SystemSenderName,
		Username:   domain.SystemSenderName,
		Sender:     domain.SenderSystem,
	}
	return s.uc.Queue.Enqueue(meta, content, false, nil)
}

// PendingQueues returns the queues waiting for their debounce window
func (s *ChatbotService) PendingQueues() []domain.QueueStatus {
	return s.uc.Queue.Pending()
}

// IdleStatus returns the idle countdown state
func (s *ChatbotService) IdleStatus() domain.IdleSnapshot {
	return s.uc.Idle.Snapshot()
}

// RecentHistory returns the last turns of a chat, oldest first
func (s *ChatbotService) RecentHistory(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	if chatID == "" {
		return nil, usecase.ErrEmptyChatID
	}
	return s.uc.History.Recent(ctx, chatID, limit)
}
