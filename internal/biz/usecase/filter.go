package usecase

import (
	"strings"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
)

// FilterUsecase decides which inbound messages the bot answers
type FilterUsecase struct {
	listen map[string]struct{}
}

// NewFilterUsecase creates a filter. An empty listen list accepts every chat.
func NewFilterUsecase(listenList []string) *FilterUsecase {
	listen := make(map[string]struct{}, len(listenList))
	for _, id := range listenList {
		if id = strings.TrimSpace(id); id != "" {
			listen[id] = struct{}{}
		}
	}
	return &FilterUsecase{listen: listen}
}

// ShouldRespond reports whether msg should be queued.
// Group messages are only answered when the bot is mentioned.
func (uc *FilterUsecase) ShouldRespond(msg *domain.InboundMessage) bool {
	if !uc.IsListening(msg.ChatID, msg.ChatName) {
		return false
	}
	if msg.IsGroup() {
		return msg.MentionsBot
	}
	return true
}

// IsListening checks the chat id or chat name against the listen list
func (uc *FilterUsecase) IsListening(chatID, chatName string) bool {
	if len(uc.listen) == 0 {
		return true
	}
	if _, ok := uc.listen[chatID]; ok {
		return true
	}
	_, ok := uc.listen[chatName]
	return ok && chatName != ""
}
