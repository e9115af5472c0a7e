package repo

import "context"

// LinkRepo finds hyperlinks in text and fetches their readable content
type LinkRepo interface {
	DetectLinks(text string) []string
	ExtractContent(ctx context.Context, url string) (string, error)
}
