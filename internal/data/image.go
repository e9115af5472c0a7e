package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
)

// DefaultRandomImageURL serves a random wallpaper on every request
const DefaultRandomImageURL = "https://t.mwm.moe/pc"

const maxImageBytes = 10 << 20

// imageRepo implements the random image repository
type imageRepo struct {
	url    string
	client *http.Client
}

// NewImageRepo creates a new image repository
func NewImageRepo(url string) repo.ImageRepo {
	if url == "" {
		url = DefaultRandomImageURL
	}
	return &imageRepo{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// RandomImage downloads one image
func (r *imageRepo) RandomImage(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", linkUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch image: empty body")
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("fetch image: larger than %d bytes", maxImageBytes)
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("fetch image: unexpected content %s", ct)
	}
	return data, nil
}
