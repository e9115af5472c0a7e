package domain

import "time"

// InboundMessage is one chat message delivered by the transport
type InboundMessage struct {
	ID          string
	ChatID      string
	ChatName    string
	ChatType    ChatType
	SenderID    string
	SenderName  string
	Username    string
	Content     string
	ImagePaths  []string
	MentionsBot bool
	CreateTime  time.Time
}

// IsGroup checks if the message came from a group chat
func (m *InboundMessage) IsGroup() bool {
	return m.ChatType == ChatTypeGroup
}

// HasImages checks if the message carries downloaded images
func (m *InboundMessage) HasImages() bool {
	return len(m.ImagePaths) > 0
}

// DisplayName returns the sender name, falling back to the sender id
func (m *InboundMessage) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}
