// Package transport is the client side of the assistant webhook protocol:
// it validates outgoing messages, enforces a per-user rate limit, issues the
// POST, and normalizes whatever shape the assistant answers with into an
// ordered list of reply strings.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"propchat/internal/domain"
)

const defaultMaxMessageChars = 5000

// unsafePattern flags script-injection markers before anything leaves the
// process. Rendering is sanitized separately; this is the outbound guard.
var unsafePattern = regexp.MustCompile(`(?i)<script|javascript:|on\w+=`)

// Client talks to the single external assistant webhook.
type Client struct {
	endpoint string
	app      string
	maxChars int
	limiter  *Limiter
	client   *http.Client
	logger   *slog.Logger
}

type ClientConfig struct {
	Endpoint        string
	App             string // client name sent in the request context
	MaxMessageChars int
	Limiter         *Limiter
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// outgoingRequest is the wire shape sent to the webhook.
type outgoingRequest struct {
	Msg     string          `json:"msg"`
	User    domain.ChatUser `json:"user"`
	Context requestContext  `json:"context"`
}

type requestContext struct {
	Source string `json:"source"`
	App    string `json:"app"`
}

// NewClient validates the endpoint once, at configuration time. A client
// pointed at a missing, plaintext, or development endpoint never constructs;
// these checks gate startup, not individual sends.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	if cfg.App == "" {
		cfg.App = "propchat"
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = defaultMaxMessageChars
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(LimiterConfig{})
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		app:      cfg.App,
		maxChars: cfg.MaxMessageChars,
		limiter:  cfg.Limiter,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

// ValidateEndpoint checks that a webhook URL is present, HTTPS, and not a
// loopback or tunnel-debugging host.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingEndpoint, err)
	}
	if u.Scheme != "https" {
		return ErrInsecureEndpoint
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || host == "127.0.0.1" || strings.Contains(host, "ngrok") {
		return ErrDevEndpoint
	}
	return nil
}

// Send pushes one user message to the webhook and returns the assistant's
// replies in order. Checks run fail-fast: rate limit first (a rejected call
// never reaches the network), then input validation, then the request itself.
func (c *Client) Send(ctx context.Context, message string, user domain.ChatUser) ([]string, error) {
	if err := c.limiter.Allow(user.ID); err != nil {
		c.logger.Warn("message rejected by rate limit", "user_id", user.ID)
		return nil, err
	}

	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > c.maxChars {
		return nil, fmt.Errorf("%w: max %d characters", ErrMessageTooLong, c.maxChars)
	}
	if unsafePattern.MatchString(trimmed) {
		c.logger.Warn("message rejected by content check", "user_id", user.ID)
		return nil, ErrUnsafeContent
	}

	payload := outgoingRequest{
		Msg:     trimmed,
		User:    user,
		Context: requestContext{Source: "web", App: c.app},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("webhook request failed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	return normalizeResponse(resp)
}

// normalizeResponse degrades gracefully: the assistant's response shape is
// not contractually fixed, so unrecognized JSON becomes a single stringified
// reply rather than a failure.
func normalizeResponse(resp *http.Response) ([]string, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		return []string{string(raw)}, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	if obj, ok := parsed.(map[string]any); ok {
		if reply, ok := obj["reply"].(string); ok && reply != "" {
			return []string{reply}, nil
		}
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return []string{msg}, nil
		}
		if arr, ok := obj["messages"].([]any); ok {
			replies := make([]string, 0, len(arr))
			for _, el := range arr {
				if s, ok := el.(string); ok {
					replies = append(replies, s)
					continue
				}
				b, _ := json.Marshal(el)
				replies = append(replies, string(b))
			}
			return replies, nil
		}
	}

	fallback, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode fallback reply: %w", err)
	}
	return []string{string(fallback)}, nil
}

// SharedHTTPClient returns an HTTP client with connection pooling and a hard
// overall timeout. The webhook gets no retries; a timeout is the only
// backstop against a send that never resolves.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
