package openairealtime

import (
	"context"
	"net/http"
	"time"
)

// DefaultWebSocketURL is the default WebSocket endpoint.
const DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

// DefaultHandshakeTimeout bounds the WebSocket handshake when neither
// WithHandshakeTimeout nor the HTTP client's Timeout sets one.
const DefaultHandshakeTimeout = 10 * time.Second

// Client is the OpenAI Realtime API client.
type Client struct {
	config *clientConfig
}

// clientConfig holds the client configuration.
type clientConfig struct {
	apiKey           string
	organization     string
	project          string
	wsURL            string
	httpClient       *http.Client
	handshakeTimeout time.Duration
	header           http.Header
}

// Option configures the Client.
type Option func(*clientConfig)

// NewClient creates a new OpenAI Realtime client.
//
// The apiKey is required and can be obtained from:
// https://platform.openai.com/api-keys
func NewClient(apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		panic("openai-realtime: API key is required")
	}

	cfg := &clientConfig{
		apiKey:     apiKey,
		wsURL:      DefaultWebSocketURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{config: cfg}
}

// WithOrganization sets the organization ID for API requests.
func WithOrganization(orgID string) Option {
	return func(c *clientConfig) {
		c.organization = orgID
	}
}

// WithProject sets the project ID for API requests.
func WithProject(projectID string) Option {
	return func(c *clientConfig) {
		c.project = projectID
	}
}

// WithWebSocketURL sets the WebSocket URL.
func WithWebSocketURL(url string) Option {
	return func(c *clientConfig) {
		c.wsURL = url
	}
}

// WithHTTPClient sets the HTTP client whose Timeout bounds the WebSocket
// handshake unless WithHandshakeTimeout is given.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithHandshakeTimeout bounds the WebSocket handshake. It takes precedence
// over the HTTP client's Timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.handshakeTimeout = d
	}
}

// WithHeader adds an extra header to the WebSocket handshake request.
func WithHeader(key, value string) Option {
	return func(c *clientConfig) {
		c.header.Add(key, value)
	}
}

// ConnectWebSocket establishes a WebSocket connection to the Realtime API.
func (c *Client) ConnectWebSocket(ctx context.Context, config *ConnectConfig) (*WebSocketSession, error) {
	return c.connectWebSocket(ctx, config)
}

// dialTimeout resolves the deadline for the WebSocket handshake.
func (c *clientConfig) dialTimeout() time.Duration {
	switch {
	case c.handshakeTimeout > 0:
		return c.handshakeTimeout
	case c.httpClient != nil && c.httpClient.Timeout > 0:
		return c.httpClient.Timeout
	default:
		return DefaultHandshakeTimeout
	}
}
