package horde

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

// Client fetches the model catalog from the listing endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ImageModels returns the available image models, filtered to entries with
// type "image" and a non-empty name, sorted by name ascending.
func (c *Client) ImageModels(ctx context.Context) ([]models.HordeModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read models body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models endpoint error: status=%d body=%s", resp.StatusCode, truncateBody(body))
	}

	var all []models.HordeModel
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	images := make([]models.HordeModel, 0, len(all))
	for _, m := range all {
		if m.Type == "image" && m.Name != "" {
			images = append(images, m)
		}
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].Name < images[j].Name
	})
	return images, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
