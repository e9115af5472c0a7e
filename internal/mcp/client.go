package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/api"
)

// Client is the HTTP client for the status API of a running bot
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new status API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Queues returns the pending conversation queues
func (c *Client) Queues(ctx context.Context) (*api.QueuesResponse, error) {
	var result api.QueuesResponse
	if err := c.get(ctx, "/api/queues", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Idle returns the idle countdown state
func (c *Client) Idle(ctx context.Context) (*api.IdleResponse, error) {
	var result api.IdleResponse
	if err := c.get(ctx, "/api/idle", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History returns the recent turns of a chat
func (c *Client) History(ctx context.Context, chatID string, limit int) (*api.HistoryResponse, error) {
	path := fmt.Sprintf("/api/history/%s", url.PathEscape(chatID))
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var result api.HistoryResponse
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tasks returns the next run of every scheduled task
func (c *Client) Tasks(ctx context.Context) ([]api.TaskStatus, error) {
	var result struct {
		Tasks []api.TaskStatus `json:"tasks"`
	}
	if err := c.get(ctx, "/api/tasks", &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// Enqueue pushes a system instruction into a chat
func (c *Client) Enqueue(ctx context.Context, chatID, content string) error {
	return c.post(ctx, "/api/enqueue", api.EnqueueRequest{ChatID: chatID, Content: content}, nil)
}

// Health checks that the bot is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// ============ HTTP Helpers ============

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP POST failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
