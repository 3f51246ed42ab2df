package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/webthings/thingcheck/internal/logging"
)

const (
	// DefaultPort is the port the reference thing listens on
	DefaultPort = 8888

	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second
)

// Config locates the thing under test.
type Config struct {
	Protocol   string // "http" or "https"
	Host       string // hostname or IP address
	Port       int
	PathPrefix string // path to the thing description, e.g. "/things/lamp"
	AuthHeader string // Authorization header value, passed verbatim
	Timeout    time.Duration
}

// Authority returns the host, with the port unless it is the protocol default.
func (c Config) Authority() string {
	if (c.Protocol == "http" && c.Port == 80) || (c.Protocol == "https" && c.Port == 443) {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// BaseURL returns the scheme and authority of the thing.
func (c Config) BaseURL() string {
	return c.Protocol + "://" + c.Authority()
}

// HostHeader returns the Host header sent with every request. Things
// generate absolute links from it, so it is pinned to localhost.
func (c Config) HostHeader() string {
	if c.Authority() == c.Host {
		return "localhost"
	}
	return "localhost:" + strconv.Itoa(c.Port)
}

// DuplexScheme returns the duplex scheme paired with the protocol.
func (c Config) DuplexScheme() string {
	if c.Protocol == "https" {
		return "wss"
	}
	return "ws"
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("protocol must be http or https, got %q", c.Protocol)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.PathPrefix != "" && !strings.HasPrefix(c.PathPrefix, "/") {
		return fmt.Errorf("path prefix %q must start with /", c.PathPrefix)
	}
	return nil
}

// Response is one decoded HTTP response. Body is nil when the thing sent no
// content or answered an error status with something other than JSON.
type Response struct {
	Status int
	Body   any
	Raw    []byte
}

// Requester issues one synchronous request at a time.
type Requester interface {
	Do(ctx context.Context, method, path string, body any) (*Response, error)
}

// Client represents an HTTP client for talking to a web thing
type Client struct {
	Config Config

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client
}

// NewClient creates a client for the configured thing
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// URL returns the absolute URL of a path relative to the path prefix.
// A trailing slash is trimmed, so "/" addresses the description itself.
func (c *Client) URL(path string) string {
	return strings.TrimRight(c.Config.BaseURL()+c.Config.PathPrefix+path, "/")
}

// Do sends a request and decodes the JSON response body.
// Statuses are not interpreted; only failures to exchange data are errors.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	target := c.URL(path)

	var payload []byte
	var reader io.Reader
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, NewNetworkError("failed to create request", target, err)
	}
	req.Host = c.Config.HostHeader()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Config.AuthHeader != "" {
		req.Header.Set("Authorization", c.Config.AuthHeader)
	}

	logging.LogHTTPRequest(method, target, payload)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(method+" request failed", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError("failed to read response body", target, err)
	}

	logging.LogHTTPResponse(method, target, resp.StatusCode, raw)

	out := &Response{Status: resp.StatusCode, Raw: raw}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	// Error pages are often text or HTML; the status alone classifies them.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if json.Valid(raw) {
			_ = json.Unmarshal(raw, &out.Body)
		}
		return out, nil
	}
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		return nil, NewParseError(fmt.Sprintf("%s answered with invalid JSON (status %d)", method, resp.StatusCode), target, err)
	}
	return out, nil
}
