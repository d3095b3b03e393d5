// Package backend talks to the chat workflow webhook.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/normalize"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

// Defaults for Config.
const (
	DefaultWebhookURL  = "http://localhost:5678/webhook/macAssistant"
	DefaultTimeout     = 60 * time.Second
	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 8 << 20

// Config configures a Client.
type Config struct {
	WebhookURL  string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DefaultConfig returns the webhook defaults.
func DefaultConfig() Config {
	return Config{
		WebhookURL:  DefaultWebhookURL,
		Timeout:     DefaultTimeout,
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Request is the webhook payload. Zero-valued provider, model, temperature
// and max_tokens are filled from Config.
type Request struct {
	ChatInput   string  `json:"chatInput"`
	SessionID   string  `json:"sessionID"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// StatusError is returned when the webhook answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned http %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned http %d: %s", e.StatusCode, e.Body)
}

// Client posts chat turns to the webhook.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTracer opens a client span per request.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New constructs a client. Unset config fields take their defaults.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = def.WebhookURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracer = tracing.OrNoop(c.tracer)
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Send posts one chat turn and returns the normalized reply. A reply that is
// not JSON wraps normalize.ErrInvalidJSON.
func (c *Client) Send(ctx context.Context, req Request) (records []normalize.Record, err error) {
	req = c.fill(req)

	ctx, span := c.tracer.Start(ctx, tracing.SpanBackendSend,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(tracing.AttrBackendURL, c.cfg.WebhookURL),
			attribute.String(tracing.AttrBackendModel, req.Model),
			attribute.String(tracing.AttrSessionID, req.SessionID),
		))
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrReplyRecords, len(records)))
		tracing.Finish(span, err)
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	log.Debug(log.CatBackend, "sending chat turn", "session", req.SessionID, "provider", req.Provider, "model", req.Model)
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.ErrorErr(log.CatBackend, "webhook request failed", err)
		return nil, fmt.Errorf("communicating with webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading webhook reply: %w", err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(body)), 200)}
		log.Warn(log.CatBackend, "webhook returned error status", "status", resp.StatusCode)
		return nil, serr
	}

	records, err = normalize.Parse(body)
	if err != nil {
		log.ErrorErr(log.CatBackend, "webhook reply is not JSON", err)
		return nil, err
	}

	log.Info(log.CatBackend, "webhook replied", "records", len(records), "elapsed", time.Since(start).Round(time.Millisecond))
	return records, nil
}

// Ping sends a HEAD to the webhook with half the request timeout. Any 2xx or
// 3xx counts as reachable.
func (c *Client) Ping(ctx context.Context) (ok bool, err error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanBackendPing,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracing.AttrBackendURL, c.cfg.WebhookURL)))
	defer func() { tracing.Finish(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout/2)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.WebhookURL, nil)
	if err != nil {
		return false, fmt.Errorf("building ping request: %w", err)
	}

	// Redirects are a success in their own right.
	hc := *c.http
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("pinging webhook: %w", err)
	}
	_ = resp.Body.Close()

	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, resp.StatusCode))
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}

func (c *Client) fill(req Request) Request {
	if req.Provider == "" {
		req.Provider = c.cfg.Provider
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	return req
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
