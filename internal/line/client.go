// Package line is a client for the LINE Messaging API: push and
// broadcast messages, user profiles, message quota, and rich menus.
// Webhook payload types and signature verification live here too.
package line

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
	"time"

	"github.com/sony/gobreaker"

	"github.com/nugget/linebot-mcp/internal/config"
	"github.com/nugget/linebot-mcp/internal/httpkit"
	"github.com/nugget/linebot-mcp/internal/metrics"
)

// DefaultBaseURL is the production Messaging API endpoint.
const DefaultBaseURL = "https://api.line.me"

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	return fmt.Sprintf("LINE API error %d: %s", e.StatusCode, msg)
}

// IsRateLimited reports whether err is a 429 from LINE, which for push
// and broadcast means the monthly message quota is exhausted.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Client calls the Messaging API with a channel access token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a Messaging API client. An empty baseURL uses
// DefaultBaseURL.
func NewClient(token, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "line")
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		breaker:    httpkit.NewBreaker("line_api", logger, countsAgainstBreaker),
		logger:     logger,
	}
}

// SetMetrics records push and broadcast outcomes on m.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// countsAgainstBreaker treats client errors and quota exhaustion as
// successes so only upstream outages open the breaker.
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if httpkit.IsBreakerOpen(err) {
		return fmt.Errorf("LINE API unavailable (circuit open): %w", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		c.logger.Log(ctx, config.LevelTrace, "request payload", "method", method, "path", path, "json", string(payload))
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("line api call", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw := httpkit.ReadErrorBody(resp.Body, 4096)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: raw}
		var parsed struct {
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(raw), &parsed) == nil {
			apiErr.Message = parsed.Message
		}
		c.logger.Warn("line api error", "method", method, "path", path, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "response payload", "path", path, "json", string(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Push sends messages to one user, group or room.
func (c *Client) Push(ctx context.Context, to string, msgs ...Message) (*SentMessages, error) {
	var out SentMessages
	body := map[string]any{"to": to, "messages": msgs}
	err := c.do(ctx, http.MethodPost, "/v2/bot/message/push", body, &out)
	c.metrics.LineSend("push", err != nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Broadcast sends messages to every friend of the channel.
func (c *Client) Broadcast(ctx context.Context, msgs ...Message) (*SentMessages, error) {
	var out SentMessages
	body := map[string]any{"messages": msgs}
	err := c.do(ctx, http.MethodPost, "/v2/bot/message/broadcast", body, &out)
	c.metrics.LineSend("broadcast", err != nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches a user's display profile.
func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/v2/bot/profile/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quota returns the monthly message limit.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	var out Quota
	if err := c.do(ctx, http.MethodGet, "/v2/bot/message/quota", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuotaConsumption returns messages sent this month.
func (c *Client) QuotaConsumption(ctx context.Context) (*QuotaConsumption, error) {
	var out QuotaConsumption
	if err := c.do(ctx, http.MethodGet, "/v2/bot/message/quota/consumption", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RichMenus lists the channel's rich menus.
func (c *Client) RichMenus(ctx context.Context) (*RichMenuList, error) {
	var out RichMenuList
	if err := c.do(ctx, http.MethodGet, "/v2/bot/richmenu/list", nil, &out); err != nil {
		return nil, err
	}
	if out.RichMenus == nil {
		out.RichMenus = []RichMenu{}
	}
	return &out, nil
}

// DeleteRichMenu removes a rich menu.
func (c *Client) DeleteRichMenu(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v2/bot/richmenu/"+url.PathEscape(id), nil, nil)
}

// SetDefaultRichMenu makes id the menu shown to every user.
func (c *Client) SetDefaultRichMenu(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v2/bot/user/all/richmenu/"+url.PathEscape(id), nil, nil)
}

// CancelDefaultRichMenu clears the default rich menu.
func (c *Client) CancelDefaultRichMenu(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v2/bot/user/all/richmenu", nil, nil)
}
