// Package apiclient provides the shared HTTP client used by the UI
// layer. Every outgoing request passes through a request interceptor
// that attaches the current bearer credential and a response
// interceptor that reports 401s to the session layer.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds every request issued through the client.
const DefaultTimeout = 10 * time.Second

// Client is the process-wide HTTP client. The bearer credential is the
// only mutable state and is written atomically by the session manager.
type Client struct {
	base  *url.URL
	http  *http.Client
	token atomic.Value // string
	on401 atomic.Value // func()
}

// APIError is a non-2xx response from the backend, relayed to the
// caller with the backend's own message when one is present.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// New creates a Client rooted at baseURL (typically the gateway mount).
func New(baseURL string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	c := &Client{base: base}
	c.token.Store("")
	c.http = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &interceptTransport{
			client: c,
			next:   http.DefaultTransport,
		},
	}
	return c, nil
}

// SetToken sets the bearer credential attached to future requests
func (c *Client) SetToken(token string) {
	c.token.Store(token)
}

// ClearToken removes the bearer credential
func (c *Client) ClearToken() {
	c.token.Store("")
}

// Token returns the current bearer credential, empty when unset
func (c *Client) Token() string {
	tok, _ := c.token.Load().(string)
	return tok
}

// OnUnauthorized registers the hook invoked whenever any response
// comes back with status 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.on401.Store(fn)
}

// Do issues a request with an optional JSON body and returns the raw
// response. The caller owns the body.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

// PostJSON posts a JSON body and decodes a JSON response into out.
// Non-2xx statuses are returned as *APIError.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// GetJSON issues a GET and decodes a JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractMessage(raw),
			Body:       raw,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// extractMessage pulls the backend's message field out of an error body.
func extractMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}

// interceptTransport applies the request/response interceptor pair.
type interceptTransport struct {
	client *Client
	next   http.RoundTripper
}

func (t *interceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tok := t.client.Token(); tok != "" && req.Header.Get("Authorization") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if hook, ok := t.client.on401.Load().(func()); ok && hook != nil {
			hook()
		}
	}

	return resp, nil
}
