package domain

import (
	"strings"
	"time"
)

// QueueTimestampLayout is the layout of the prefix stamped on the first message of a queue
const QueueTimestampLayout = "2006-01-02 15:04:05"

// SenderKind tells a real chat participant apart from bot-generated input
type SenderKind int

const (
	SenderHuman SenderKind = iota
	SenderSystem
)

// String implements fmt.Stringer
func (k SenderKind) String() string {
	if k == SenderSystem {
		return "system"
	}
	return "human"
}

// SystemSenderName is the display name used for bot-generated messages
const SystemSenderName = "System"

// QueueMetadata is captured once when a queue is created and never changes afterwards
type QueueMetadata struct {
	ChatID             string
	SenderName         string
	Username           string
	IsGroup            bool
	IsImageRecognition bool
	Sender             SenderKind
}

// Key returns the queue key for this metadata
func (m QueueMetadata) Key() string {
	return ResolveQueueKey(m.ChatID, m.SenderName, m.IsGroup)
}

// ResolveQueueKey derives the queue key of a conversation.
// Group members are queued independently; a private chat has a single queue.
func ResolveQueueKey(chatID, senderName string, isGroup bool) string {
	if isGroup {
		return chatID + "_" + senderName
	}
	return chatID
}

// ConversationQueue holds the messages buffered for one key until its debounce window elapses
type ConversationQueue struct {
	Key string
	QueueMetadata

	Messages   []string
	LastUpdate time.Time
	HasLink    bool
	URLs       []string
	Generation uint64
}

// NewConversationQueue creates a queue seeded with a timestamp-prefixed first message
func NewConversationQueue(meta QueueMetadata, message string, now time.Time) *ConversationQueue {
	return &ConversationQueue{
		Key:           meta.Key(),
		QueueMetadata: meta,
		Messages:      []string{"[" + now.Format(QueueTimestampLayout) + "]\n" + message},
		LastUpdate:    now,
	}
}

// Append adds a later message to the queue without a timestamp prefix
func (q *ConversationQueue) Append(message string, now time.Time) {
	q.Messages = append(q.Messages, message)
	q.LastUpdate = now
}

// RecordLinks OR-accumulates the link flag and keeps the first URL of this call
func (q *ConversationQueue) RecordLinks(hasLink bool, urls []string) {
	q.HasLink = q.HasLink || hasLink
	if hasLink && len(urls) > 0 {
		q.URLs = append(q.URLs, urls[0])
	}
}

// Combined joins the buffered messages in arrival order
func (q *ConversationQueue) Combined() string {
	return strings.Join(q.Messages, "\n")
}

// FirstURL returns the first recorded URL, or "" when none was recorded
func (q *ConversationQueue) FirstURL() string {
	if len(q.URLs) == 0 {
		return ""
	}
	return q.URLs[0]
}

// IsSystem reports whether the queue was produced by the bot itself
func (q *ConversationQueue) IsSystem() bool {
	return q.Sender == SenderSystem
}

// Clone returns a deep copy safe to hand out of the store
func (q *ConversationQueue) Clone() *ConversationQueue {
	c := *q
	c.Messages = append([]string(nil), q.Messages...)
	c.URLs = append([]string(nil), q.URLs...)
	return &c
}

// QueueStatus is a read-only view of a pending queue
type QueueStatus struct {
	Key          string    `json:"key"`
	ChatID       string    `json:"chat_id"`
	SenderName   string    `json:"sender_name"`
	IsGroup      bool      `json:"is_group"`
	Sender       string    `json:"sender"`
	MessageCount int       `json:"message_count"`
	HasLink      bool      `json:"has_link"`
	LastUpdate   time.Time `json:"last_update"`
}

// Status builds the read-only view of the queue
func (q *ConversationQueue) Status() QueueStatus {
	return QueueStatus{
		Key:          q.Key,
		ChatID:       q.ChatID,
		SenderName:   q.SenderName,
		IsGroup:      q.IsGroup,
		Sender:       q.Sender.String(),
		MessageCount: len(q.Messages),
		HasLink:      q.HasLink,
		LastUpdate:   q.LastUpdate,
	}
}
