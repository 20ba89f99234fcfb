// Package hubs provides the HTTP plumbing shared by the data hub
// plugins: request execution with status checking, JSON helpers, and
// archive downloads. Failures are attributed to the owning hub via
// pkg/errors.PluginError.
package hubs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

const defaultTimeout = 2 * time.Minute

// Client executes HTTP requests on behalf of one data hub.
type Client struct {
	hub  string
	http *http.Client
	log  *logger.Logger
}

// NewClient returns a client attributing failures to the named hub.
func NewClient(hub string, log *logger.Logger) *Client {
	return NewClientWithLimit(hub, 0, log)
}

// NewClientWithLimit bounds concurrent connections per host. A zero or
// negative limit keeps the transport default.
func NewClientWithLimit(hub string, limit int, log *logger.Logger) *Client {
	var transport http.RoundTripper
	if limit > 0 {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxConnsPerHost = limit
		transport = t
	}

	return &Client{
		hub:  hub,
		http: &http.Client{Timeout: defaultTimeout, Transport: transport},
		log:  log,
	}
}

// Do executes a request and rejects 4xx/5xx responses. The caller owns
// the response body on success.
func (c *Client) Do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.NewPluginError(c.hub, err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewPluginError(c.hub, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, errors.NewPluginErrorf(c.hub, "unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// GetJSON fetches a URL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewPluginErrorf(c.hub, "decode response from %s: %v", rawURL, err)
	}
	return nil
}

// PostJSON posts a JSON payload and decodes the JSON response into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, out any, extraHeaders map[string]string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return errors.NewPluginError(c.hub, err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for key, value := range extraHeaders {
		headers[key] = value
	}

	resp, err := c.Do(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewPluginErrorf(c.hub, "decode response from %s: %v", rawURL, err)
	}
	return nil
}

// PostForm posts a form-encoded body and decodes the JSON response.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}

	resp, err := c.Do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewPluginErrorf(c.hub, "decode response from %s: %v", rawURL, err)
	}
	return nil
}

// GetText fetches a URL and returns the response body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewPluginErrorf(c.hub, "read response from %s: %v", rawURL, err)
	}
	return string(data), nil
}

// DownloadFile streams a URL into path, warning before overwriting an
// existing file. It returns the path written.
func (c *Client) DownloadFile(ctx context.Context, rawURL, path string) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := os.Stat(path); err == nil {
		c.log.WithFields(map[string]any{"path": path}).Warn("file already exists and will be overwritten")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", errors.NewPluginErrorf(c.hub, "write %s: %v", path, err)
	}
	return path, nil
}

// ConfigString reads an optional string entry from a plugin config map.
func ConfigString(config map[string]any, key, fallback string) string {
	if config == nil {
		return fallback
	}
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// ConfigInt reads an optional integer entry from a plugin config map,
// tolerating string values from user_info sections.
func ConfigInt(config map[string]any, key string, fallback int) int {
	if config == nil {
		return fallback
	}
	switch value := config[key].(type) {
	case int:
		return value
	case string:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
