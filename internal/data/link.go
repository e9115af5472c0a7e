package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
)

const (
	defaultLinkMaxChars    = 4000
	defaultLinkMaxRedirect = 3
	linkFetchTimeout       = 30 * time.Second
	linkMaxBodyBytes       = 2 << 20
	linkUserAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"'，。！？、；：“”‘’（）()\[\]]+`)

// LinkConfig configures web page extraction
type LinkConfig struct {
	MaxChars int
	Timeout  time.Duration
}

// linkRepo implements the link repository
type linkRepo struct {
	client   *http.Client
	maxChars int
	group    singleflight.Group
}

// NewLinkRepo creates a new link repository
func NewLinkRepo(cfg LinkConfig) repo.LinkRepo {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultLinkMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = linkFetchTimeout
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > defaultLinkMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", defaultLinkMaxRedirect)
			}
			return nil
		},
	}
	return &linkRepo{client: client, maxChars: cfg.MaxChars}
}

// DetectLinks returns the http(s) URLs found in text, in order of appearance
func (r *linkRepo) DetectLinks(text string) []string {
	matches := urlRe.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?")
	}
	return matches
}

// ExtractContent fetches url and returns its readable text.
// Concurrent requests for the same url share one fetch.
func (r *linkRepo) ExtractContent(ctx context.Context, url string) (string, error) {
	v, err, _ := r.group.Do(url, func() (interface{}, error) {
		return r.fetch(ctx, url)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *linkRepo) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", linkUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, linkMaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	var text string
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		text = extractJSON(body)
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		text = htmlToText(string(body))
		if title := htmlTitle(string(body)); title != "" && !strings.HasPrefix(text, title) {
			text = title + "\n" + text
		}
	case strings.HasPrefix(contentType, "text/"), contentType == "":
		text = strings.TrimSpace(string(body))
	default:
		return "", fmt.Errorf("fetch %s: unsupported content type %q", url, contentType)
	}

	if text == "" {
		return "", fmt.Errorf("fetch %s: no readable content", url)
	}
	return truncateRunes(text, r.maxChars), nil
}

// truncateRunes cuts s to at most n runes
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
