package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// maxResponseBytes bounds how much of a tool response is read.
const maxResponseBytes = 1 << 20

// Client invokes gateway tools over HTTP. Calls carry a bearer credential
// and a `{tool, args}` JSON body; a non-2xx status and an ok=false body are
// both failures.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a tool-invocation client for the given gateway.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type invokeRequest struct {
	Tool string `json:"tool"`
	Args any    `json:"args"`
}

type invokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Invoke calls a named gateway tool and returns the raw result.
func (c *Client) Invoke(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(invokeRequest{Tool: tool, Args: args})
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("invoke %s: status %d: %s", tool, resp.StatusCode, text)
	}

	var parsed invokeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode invoke response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("invoke %s: gateway error: %s", tool, parsed.Error)
	}
	return parsed.Result, nil
}

// ListSessions fetches the gateway's current session inventory.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	result, err := c.Invoke(ctx, "sessions.list", struct{}{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return parsed.Sessions, nil
}
