package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/statusrelay/internal/event"
)

// APIError is a non-2xx reply from a listener.
type APIError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Error == "" {
		return fmt.Sprintf("status listener returned %d", e.StatusCode)
	}
	return fmt.Sprintf("status listener returned %d: %s (%s)", e.StatusCode, e.Response.Error, e.Response.Code)
}

// Client talks to a running listener.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL, e.g. http://localhost:5679.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Post sends one status event.
func (c *Client) Post(ctx context.Context, ev event.StatusEvent) (StatusResponse, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return StatusResponse{}, err
	}
	var res StatusResponse
	if err := c.do(ctx, http.MethodPost, "/status", payload, &res); err != nil {
		return StatusResponse{}, err
	}
	return res, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var res Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return Health{}, err
	}
	return res, nil
}

// Tail follows GET /stream, calling fn for every mirrored event until ctx is
// done or the server closes the stream.
func (c *Client) Tail(ctx context.Context, fn func(StreamEvent)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var se StreamEvent
		if err := conn.ReadJSON(&se); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		fn(se)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Response)
		return apiErr
	}
	return json.Unmarshal(data, out)
}
