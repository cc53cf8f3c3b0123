// Package brevia implements the HTTP client for the Brevia index service.
package brevia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brevia-ai/brevia-sync/internal/config"
)

const defaultTimeout = 30 * time.Second

// APIError is the single error kind surfaced for any failed call to the
// index service: transport failures and any response with status >= 400.
// Status is always within [100, 599].
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Brevia API error [%d]: %s", e.Status, e.Message)
}

// Client is an authenticated request proxy to the Brevia API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client from API configuration. The base URL must be an
// absolute URL; the bearer token is optional.
func New(cfg config.APIConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Brevia API base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}, nil
}

// Get issues a GET request with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, p, nil, "")
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, "")
	return err
}

// PostMultipart issues a POST request with a multipart/form-data body.
// contentType must carry the form boundary.
func (c *Client) PostMultipart(ctx context.Context, path, contentType string, form io.Reader) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, form, contentType)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, reader, "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, c.apiError(0, fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.apiError(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.apiError(resp.StatusCode, fmt.Sprintf("reading response body: %v", err))
	}
	if resp.StatusCode >= 400 {
		return nil, c.apiError(resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// apiError logs and returns an APIError, clamping the status to [100, 599].
func (c *Client) apiError(status int, message string) error {
	if status < 100 || status > 599 {
		status = 500
	}
	c.logger.Error("Brevia API error", "status", status, "message", message)
	return &APIError{Status: status, Message: message}
}
