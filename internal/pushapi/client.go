// Package pushapi is the client for the role-scoped push endpoints of the
// application API: key retrieval, subscription persistence and status.
package pushapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Client struct {
	baseURL    string
	prefix     string
	token      string
	httpClient *http.Client
}

// New creates a client for one role. prefix is the role path, for example
// "/api/coach/push".
func New(baseURL, prefix, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     "/" + strings.Trim(prefix, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type vapidKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type statusResponse struct {
	Enabled bool `json:"enabled"`
}

// VAPIDPublicKey returns the decoded application server key.
func (c *Client) VAPIDPublicKey(ctx context.Context) ([]byte, error) {
	var resp vapidKeyResponse
	if err := c.doRequest(ctx, http.MethodGet, "/vapid-public-key", nil, &resp); err != nil {
		return nil, fmt.Errorf("pushapi.VAPIDPublicKey: %w", err)
	}
	key, err := DecodeKey(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("pushapi.VAPIDPublicKey: %w", err)
	}
	return key, nil
}

// Subscribe persists the subscription on the server.
func (c *Client) Subscribe(ctx context.Context, sub webpush.Subscription) error {
	if err := c.doRequest(ctx, http.MethodPost, "/subscribe", sub, nil); err != nil {
		return fmt.Errorf("pushapi.Subscribe: %w", err)
	}
	return nil
}

func (c *Client) DeleteSubscription(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/subscription", nil, nil); err != nil {
		return fmt.Errorf("pushapi.DeleteSubscription: %w", err)
	}
	return nil
}

// Status reports whether the server holds an enabled subscription.
func (c *Client) Status(ctx context.Context) (bool, error) {
	var resp statusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return false, fmt.Errorf("pushapi.Status: %w", err)
	}
	return resp.Enabled, nil
}

// DecodeKey accepts base64url with or without padding, and standard base64
// as some servers emit it.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	trimmed := strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return b, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.prefix+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
