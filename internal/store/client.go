package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the configuration store over HTTP. The secret component is
// write-only from this side.
type Client struct {
	base  string
	httpc *http.Client
}

func NewClient(base string) *Client {
	return &Client{base: base, httpc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Read(ctx context.Context) (Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/config", nil)
	if err != nil {
		return Settings{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Settings{}, fmt.Errorf("config read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Settings{}, fmt.Errorf("config read: status %d", resp.StatusCode)
	}
	var out Settings
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Settings{}, fmt.Errorf("config read: %w", err)
	}
	return out, nil
}

type writeRequest struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (c *Client) Write(ctx context.Context, url, apiKey, apiSecret string) error {
	body, err := json.Marshal(writeRequest{URL: url, APIKey: apiKey, APISecret: apiSecret})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/config", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("config write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var out struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Error != "" {
			return fmt.Errorf("config write: %s", out.Error)
		}
		return fmt.Errorf("config write: status %d", resp.StatusCode)
	}
	return nil
}
