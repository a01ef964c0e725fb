package dnanexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

const defaultAPIServer = "https://api.dnanexus.com:443"

// Config mirrors the DX_* environment the platform's own tooling reads.
type Config struct {
	APIServer string
	Token     string
	// Workspace is the project context, used when no project is named.
	Workspace string
}

// ConfigFromEnv reads DX_APISERVER_*, DX_SECURITY_CONTEXT (or DX_AUTH_TOKEN)
// and DX_PROJECT_CONTEXT_ID.
func ConfigFromEnv() (Config, error) {
	cfg := Config{APIServer: defaultAPIServer}

	host := os.Getenv("DX_APISERVER_HOST")
	if host != "" {
		protocol := os.Getenv("DX_APISERVER_PROTOCOL")
		if protocol == "" {
			protocol = "https"
		}
		port := os.Getenv("DX_APISERVER_PORT")
		if port == "" {
			port = "443"
		}
		cfg.APIServer = fmt.Sprintf("%s://%s:%s", protocol, host, port)
	}

	if sc := os.Getenv("DX_SECURITY_CONTEXT"); sc != "" {
		var securityContext struct {
			TokenType string `json:"auth_token_type"`
			Token     string `json:"auth_token"`
		}
		if err := json.Unmarshal([]byte(sc), &securityContext); err != nil {
			return cfg, fmt.Errorf("parsing DX_SECURITY_CONTEXT: %w", err)
		}
		cfg.Token = securityContext.Token
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("DX_AUTH_TOKEN")
	}

	cfg.Workspace = os.Getenv("DX_PROJECT_CONTEXT_ID")
	return cfg, nil
}

// Client is a minimal DNAnexus API client. Every route is a POST of a JSON
// document.
type Client struct {
	baseURL    string
	token      string
	workspace  string
	httpClient *http.Client

	maxRetries       int
	retryBackoffBase time.Duration
}

func NewClient(cfg Config) *Client {
	base := cfg.APIServer
	if base == "" {
		base = defaultAPIServer
	}
	return &Client{
		baseURL:          strings.TrimSuffix(base, "/"),
		token:            cfg.Token,
		workspace:        cfg.Workspace,
		httpClient:       &http.Client{Timeout: 2 * time.Minute},
		maxRetries:       3,
		retryBackoffBase: time.Second,
	}
}

// Workspace returns the project context ID, or "" outside a job or selected project.
func (c *Client) Workspace() string {
	return c.workspace
}

// APIError is the platform's {"error": {"type", "message"}} envelope.
type APIError struct {
	Status  int
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

// IsNotFound reports whether err is a ResourceNotFound API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "ResourceNotFound"
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// call POSTs in to route and decodes the response into out.
func (c *Client) call(ctx context.Context, route string, in, out any) error {
	if c.token == "" {
		return fmt.Errorf("no DNAnexus auth token configured")
	}
	if in == nil {
		in = struct{}{}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", route, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoffBase * time.Duration(1<<uint(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(c.retryBackoffBase) + 1))
			slog.Debug("retrying DNAnexus call", "route", route, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", route, err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read %s response: %w", route, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{Status: resp.StatusCode}
			var envelope struct {
				Error *APIError `json:"error"`
			}
			if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
				apiErr.Type = envelope.Error.Type
				apiErr.Message = envelope.Error.Message
			} else {
				apiErr.Type = http.StatusText(resp.StatusCode)
				apiErr.Message = string(body)
			}
			if retryable(resp.StatusCode) {
				lastErr = apiErr
				continue
			}
			return fmt.Errorf("%s: %w", route, apiErr)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", route, err)
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
