package usecase

import (
	"regexp"
	"strings"
)

var defaultVoiceKeywords = []string{
	"语音",
	"发语音",
	"说句话",
	"听听你的声音",
	"voice message",
	"send a voice",
}

var randomImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`来个图|来张图|来点图|想看图`),
	regexp.MustCompile(`[来发看][张个幅]图`),
}

// KeywordClassifier routes a flushed batch by keyword matching
type KeywordClassifier struct {
	voiceKeywords []string
}

// NewKeywordClassifier creates a classifier; extra voice keywords are appended to the built-in list
func NewKeywordClassifier(extraVoiceKeywords ...string) *KeywordClassifier {
	keywords := append([]string(nil), defaultVoiceKeywords...)
	for _, k := range extraVoiceKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	for i := range keywords {
		keywords[i] = strings.ToLower(keywords[i])
	}
	return &KeywordClassifier{voiceKeywords: keywords}
}

// IsVoiceRequest reports whether the text asks for a voice reply
func (c *KeywordClassifier) IsVoiceRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range c.voiceKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// IsRandomImageRequest reports whether the text asks for a random picture
func (c *KeywordClassifier) IsRandomImageRequest(text string) bool {
	for _, re := range randomImagePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
