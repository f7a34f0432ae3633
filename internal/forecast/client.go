package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wattlens/wattlens/internal/metrics"
)

// ErrNoEndpoint is returned when the client is built without an endpoint.
var ErrNoEndpoint = errors.New("forecast endpoint not configured")

// Transport delivers one encoded request body to the model and returns the
// raw reply.
type Transport interface {
	Send(ctx context.Context, contentType string, body []byte) ([]byte, error)
	Target() string
}

// Client invokes the external inference endpoint. Build it once at start-up
// and share it.
type Client struct {
	transport Transport
	logger    *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client of an HTTP transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if t, ok := c.transport.(*httpTransport); ok && hc != nil {
			t.client = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient validates endpoint and returns a client posting to it over plain
// HTTP with timeout for every call. Used against local model servers.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse forecast endpoint: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("forecast endpoint %q must be an absolute http(s) url", endpoint)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewClientWithTransport(&httpTransport{endpoint: endpoint, client: &http.Client{Timeout: timeout}}, opts...), nil
}

// NewClientWithTransport wraps an arbitrary transport.
func NewClientWithTransport(transport Transport, opts ...Option) *Client {
	c := &Client{transport: transport, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the invocation target.
func (c *Client) Endpoint() string { return c.transport.Target() }

// Invoke sends a forecast request and decodes the response into one of the
// supported shapes.
func (c *Client) Invoke(ctx context.Context, payload Request) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}
	raw, err := c.post(ctx, "application/json", body)
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(raw)
}

// InvokeCSV posts a CSV body and returns the raw response.
func (c *Client) InvokeCSV(ctx context.Context, body []byte) ([]byte, error) {
	return c.post(ctx, "text/csv", body)
}

func (c *Client) post(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	if c == nil || c.transport == nil {
		return nil, ErrNoEndpoint
	}
	started := time.Now()
	raw, err := c.transport.Send(ctx, contentType, body)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		c.logger.Warn("forecast call failed", slog.String("endpoint", c.transport.Target()), slog.Any("error", err))
	}
	metrics.ObserveForecastCall(time.Since(started), outcome)
	return raw, err
}

type httpTransport struct {
	endpoint string
	client   *http.Client
}

func (t *httpTransport) Target() string { return t.endpoint }

func (t *httpTransport) Send(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("forecast endpoint returned %s", resp.Status)
	}
	return raw, nil
}
