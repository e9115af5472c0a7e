package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
	"github.com/heshi2019/Read-KouriChat/internal/service"
)

const (
	seenTTL      = 5 * time.Minute
	directoryTTL = 30 * time.Minute
)

// Gateway is the part of the Feishu client the server drives
type Gateway interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	Stop()
	DownloadImage(ctx context.Context, messageID, imageKey string) (string, error)
	GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error)
	GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error)
}

var _ Gateway = (*feishu.Client)(nil)

// MessageHandler consumes converted inbound messages
type MessageHandler interface {
	OnMessageReceived(ctx context.Context, msg *domain.InboundMessage) error
}

type chatDirectory struct {
	name     string
	members  map[string]string // open_id -> name
	loadedAt time.Time
}

// FeishuServer converts Feishu events into inbound messages
type FeishuServer struct {
	client  Gateway
	handler MessageHandler
	botName string
	logger  *slog.Logger
	now     func() time.Time

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp

	dirMu       sync.Mutex
	directories map[string]*chatDirectory
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client Gateway, handler MessageHandler, botName string) *FeishuServer {
	return &FeishuServer{
		client:      client,
		handler:     handler,
		botName:     strings.TrimSpace(botName),
		logger:      logging.ForComponent(logging.CompServer),
		now:         time.Now,
		seenMsgs:    make(map[string]time.Time),
		directories: make(map[string]*chatDirectory),
	}
}

// Start registers the handler and blocks on the Feishu connection
func (s *FeishuServer) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

// Stop stops the server
func (s *FeishuServer) Stop() {
	s.client.Stop()
}

// handleMessage handles Feishu messages
func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	// Message deduplication: check if already processed
	if !s.markMessageSeen(msg.MsgID) {
		s.logger.Debug("duplicate_message", slog.String("msg_id", msg.MsgID))
		return
	}

	ctx := context.Background()
	inbound := s.convert(ctx, msg)

	if err := s.handler.OnMessageReceived(ctx, inbound); err != nil {
		if errors.Is(err, service.ErrNotListening) {
			return
		}
		s.logger.Error("handle_message_failed",
			slog.String("msg_id", msg.MsgID),
			slog.String("chat_id", msg.ChatID),
			slog.String("error", err.Error()))
	}
}

// convert resolves names, strips the bot mention and downloads images
func (s *FeishuServer) convert(ctx context.Context, msg *feishu.Message) *domain.InboundMessage {
	chatType := domain.ChatTypeFromGroup(msg.ChatType == string(domain.ChatTypeGroup))

	inbound := &domain.InboundMessage{
		ID:          msg.MsgID,
		ChatID:      msg.ChatID,
		ChatType:    chatType,
		Content:     msg.Content,
		MentionsBot: msg.MentionsBot,
		CreateTime:  s.now(),
	}
	if msg.CreateTime > 0 {
		inbound.CreateTime = time.UnixMilli(msg.CreateTime)
	}

	if msg.Sender != nil {
		inbound.SenderID = msg.Sender.SenderID
	}
	dir := s.directory(ctx, msg.ChatID)
	inbound.ChatName = dir.name
	inbound.SenderName = dir.members[inbound.SenderID]
	inbound.Username = inbound.SenderID

	if chatType == domain.ChatTypeGroup && s.botName != "" {
		var mentioned bool
		inbound.Content, mentioned = stripMention(inbound.Content, s.botName)
		inbound.MentionsBot = inbound.MentionsBot || mentioned
	}

	for _, key := range msg.ImageKeys {
		path, err := s.client.DownloadImage(ctx, msg.MsgID, key)
		if err != nil {
			s.logger.Warn("image_download_failed",
				slog.String("msg_id", msg.MsgID),
				slog.String("image_key", key),
				slog.String("error", err.Error()))
			continue
		}
		inbound.ImagePaths = append(inbound.ImagePaths, path)
	}
	return inbound
}

// stripMention removes every "@name" from text and reports whether one was present
func stripMention(text, name string) (string, bool) {
	tag := "@" + name
	if !strings.Contains(text, tag) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, tag, "")), true
}

// directory returns the cached chat name and member names, refreshing stale entries.
// Lookup failures leave the names empty.
func (s *FeishuServer) directory(ctx context.Context, chatID string) *chatDirectory {
	s.dirMu.Lock()
	dir, ok := s.directories[chatID]
	s.dirMu.Unlock()
	if ok && s.now().Sub(dir.loadedAt) < directoryTTL {
		return dir
	}

	dir = &chatDirectory{members: make(map[string]string), loadedAt: s.now()}
	if info, err := s.client.GetChatInfo(ctx, chatID); err == nil {
		dir.name = info.Name
	} else {
		s.logger.Debug("chat_info_failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
	}
	if members, err := s.client.GetChatMembers(ctx, chatID); err == nil {
		for _, m := range members {
			dir.members[m.MemberID] = m.Name
		}
	} else {
		s.logger.Debug("chat_members_failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
	}

	s.dirMu.Lock()
	s.directories[chatID] = dir
	s.dirMu.Unlock()
	return dir
}

// markMessageSeen records msgID and reports whether it was new
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	// Clean up expired message records
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}

	if _, exists := s.seenMsgs[msgID]; exists {
		return false
	}
	s.seenMsgs[msgID] = now
	return true
}
