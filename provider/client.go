package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to the sandbox provider that emits the webhook streams. The
// matching core never calls outbound; this client exists for operational
// tooling (health checks, webhook replay).
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient constructs a provider client with sane defaults.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Health checks the provider liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}

// ReplayRequest asks the provider to re-deliver a sandbox's webhook events.
type ReplayRequest struct {
	SandboxID string `json:"sandbox_id"`
}

// ReplayResponse reports how many events the provider will re-deliver.
type ReplayResponse struct {
	SandboxID string `json:"sandbox_id"`
	Events    int    `json:"events"`
}

// ReplayWebhooks requests re-delivery of all webhook events for a sandbox.
// Idempotent ingest makes the replay safe.
func (c *Client) ReplayWebhooks(ctx context.Context, sandboxID string) (*ReplayResponse, error) {
	if strings.TrimSpace(sandboxID) == "" {
		return nil, fmt.Errorf("sandbox id required")
	}
	var resp ReplayResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sandbox/replay", &ReplayRequest{SandboxID: sandboxID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("provider client not configured")
	}
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider %s failed: status=%d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
