package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Request is the payload the generation webhook expects. Field names match
// the webhook's form trigger contract.
type Request struct {
	Prompt string `json:"Prompt"`
	Model  string `json:"Model"`
	Email  string `json:"email"`
}

// Image is the binary payload returned by a successful generation.
type Image struct {
	Bytes []byte
	Mime  string
}

// Client invokes the webhook-triggered generation pipeline.
type Client struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(url string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Generate posts the request and returns the raw image bytes. Any non-2xx
// status is a failure.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("generation webhook failed", "status", resp.StatusCode, "body", truncateBody(raw))
		}
		return nil, fmt.Errorf("webhook error: status=%d body=%s", resp.StatusCode, truncateBody(raw))
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return &Image{Bytes: raw, Mime: mime}, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
