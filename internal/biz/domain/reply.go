package domain

// RequestKind is the routing decision made for a flushed batch
type RequestKind int

const (
	RequestText RequestKind = iota
	RequestVoice
	RequestRandomImage
)

// String implements fmt.Stringer
func (k RequestKind) String() string {
	switch k {
	case RequestVoice:
		return "voice"
	case RequestRandomImage:
		return "random_image"
	default:
		return "text"
	}
}

// ReplyRequest is what a responder needs to answer a flushed batch
type ReplyRequest struct {
	ChatID     string
	SenderName string
	Username   string
	IsGroup    bool
	Sender     SenderKind
	Message    string
}

// IsSystem reports whether the request was synthesized by the bot
func (r *ReplyRequest) IsSystem() bool {
	return r.Sender == SenderSystem
}

// ReplyResult is the outcome of a responder
type ReplyResult struct {
	// Prompt is the text that was sent to the model (group messages are wrapped)
	Prompt string
	Reply  string
}
