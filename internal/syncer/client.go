// Package syncer moves locally authored records to the central
// aggregation service: the Batcher sweeps not-yet-synced rows in
// bounded chunks, the Dispatcher drains the durable sync queue.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"possync/internal/domain"
)

// ErrRejected marks a response the receiver will never accept no
// matter how often it is retried (validation failure, bad request).
var ErrRejected = errors.New("batch rejected by central service")

// Client talks to the central reconciliation endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) PushUsers(ctx context.Context, users []domain.User) error {
	return c.post(ctx, "/api/sync/users", map[string]any{"users": users})
}

func (c *Client) PushProducts(ctx context.Context, products []domain.Product) error {
	return c.post(ctx, "/api/sync/inventory", map[string]any{"products": products})
}

func (c *Client) PushSales(ctx context.Context, sales []domain.Sale) error {
	return c.post(ctx, "/api/sync/sales", map[string]any{"sales": sales})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := readErrorDetail(resp.Body)
	// 4xx means the payload itself is bad; redelivering the same bytes
	// cannot succeed. 408 and 429 are transient despite the class.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s (%s)", ErrRejected, resp.Status, detail)
	}
	return fmt.Errorf("post %s: %s (%s)", path, resp.Status, detail)
}

func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(bytes.TrimSpace(raw))
}
