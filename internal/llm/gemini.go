// Package llm talks to the Gemini generateContent REST API. A Gateway
// retries transient failures, walks a chain of fallback models and API
// versions, and stops calling out while Gemini is failing.
package llm

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

	"github.com/sony/gobreaker"

	"github.com/nugget/linebot-mcp/internal/config"
	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/httpkit"
	"github.com/nugget/linebot-mcp/internal/metrics"
)

// DefaultBaseURL is the public Generative Language API host.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// API versions, tried in this order.
const (
	APIVersionV1     = "v1"
	APIVersionV1Beta = "v1beta"
)

// ErrNoAPIKey is returned before any network call when no key is set.
var ErrNoAPIKey = errorsx.New(errorsx.ReasonConfig, "Please set GEMINI_API_KEY (or GOOGLE_API_KEY)")

// Generator produces text from a prompt.
type Generator interface {
	// Generate walks the fallback chain starting at model.
	Generate(ctx context.Context, model, prompt string) (*Result, error)
	// GenerateOnce calls exactly one model and API version, with retries.
	GenerateOnce(ctx context.Context, model, version, prompt string) (*Result, error)
	// Configured reports whether an API key is set.
	Configured() bool
}

// Result is a successful generateContent response.
type Result struct {
	// Text is every part of the first candidate, concatenated. It may
	// be empty when the model returned no content.
	Text string
	// Message is the error.message field, if the body carried one.
	Message    string
	Model      string
	APIVersion string
}

// APIError is a non-2xx generateContent response after retries.
type APIError struct {
	StatusCode int
	Body       string
	Model      string
	APIVersion string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsNotFound reports whether err is a 404 from Gemini, meaning the
// model is unknown under that API version.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Options configures a Gateway.
type Options struct {
	APIKey  string
	BaseURL string
	// Strict disables the fallback chain: only the requested model on v1.
	Strict  bool
	Timeout time.Duration
	Retry   RetryPolicy
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Gateway is the Gemini client used by every generating tool.
type Gateway struct {
	apiKey     string
	baseURL    string
	strict     bool
	retry      RetryPolicy
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGateway creates a Gateway. The key is checked per call so a server
// can start without one.
func NewGateway(opts Options) *Gateway {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "gemini")
	return &Gateway{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		strict:     opts.Strict,
		retry:      opts.Retry.withDefaults(),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(opts.Timeout)),
		breaker:    httpkit.NewBreaker("gemini", logger, countsAgainstBreaker),
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// Configured reports whether an API key is set.
func (g *Gateway) Configured() bool {
	return g.apiKey != ""
}

// countsAgainstBreaker sees the outcome of one whole generation. A
// generation that ended on a 4xx (bad model names, quota) is a success
// for the breaker; one that ended on a server error or a transport
// failure is a single failure, however many attempts it made.
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return errors.Is(err, context.Canceled)
}

// guarded runs one generation inside the circuit breaker.
func (g *Gateway) guarded(fn func() (*Result, error)) (*Result, error) {
	v, err := g.breaker.Execute(func() (any, error) {
		return fn()
	})
	if httpkit.IsBreakerOpen(err) {
		return nil, errorsx.Wrap(fmt.Errorf("Gemini unavailable (circuit open): %w", err), errorsx.ReasonGeneration)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Generate tries each candidate (model, version) pair until one
// succeeds. A 404 moves to the next API version of the same model; any
// other HTTP failure moves to the next model. Transport errors abort.
// The whole chain counts once against the breaker.
func (g *Gateway) Generate(ctx context.Context, model, prompt string) (*Result, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return g.guarded(func() (*Result, error) {
		return g.generate(ctx, model, prompt)
	})
}

func (g *Gateway) generate(ctx context.Context, model, prompt string) (*Result, error) {
	chain := NewCandidateChain(model, g.strict)
	for {
		c, ok := chain.Next()
		if !ok {
			break
		}
		res, err := g.generateOnce(ctx, c.Model, c.APIVersion, prompt)
		if err == nil {
			return res, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		chain.Fail(apiErr)
		g.logger.Debug("gemini candidate failed", "model", c.Model, "version", c.APIVersion, "status", apiErr.StatusCode)
	}
	last := chain.LastError()
	if last == nil {
		return nil, errorsx.New(errorsx.ReasonGeneration, "Gemini API error: no candidate models")
	}
	return nil, errorsx.Wrap(fmt.Errorf("Gemini API error: %w", last), errorsx.ReasonGeneration)
}

// GenerateOnce calls one model and API version, retrying 429/500/503.
// Non-2xx results come back as *APIError.
func (g *Gateway) GenerateOnce(ctx context.Context, model, version, prompt string) (*Result, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return g.guarded(func() (*Result, error) {
		return g.generateOnce(ctx, model, version, prompt)
	})
}

func (g *Gateway) generateOnce(ctx context.Context, model, version, prompt string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", g.baseURL, version, url.PathEscape(model))
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	g.logger.Log(ctx, config.LevelTrace, "request payload", "model", model, "version", version, "json", string(payload))

	var resp *attemptResult
	err = g.retry.Do(ctx, func(attempt int) (time.Duration, bool, error) {
		r, err := g.attempt(ctx, endpoint, model, version, payload)
		if err != nil {
			return 0, false, err
		}
		resp = r
		if r.status >= 200 && r.status <= 299 {
			return 0, false, nil
		}
		if !httpkit.RetryableStatus(r.status) {
			return 0, false, nil
		}
		wait, ok := httpkit.RetryAfter(r.header)
		if !ok {
			wait = g.retry.backoff(attempt)
		} else {
			wait = min(wait, g.retry.MaxDelay)
		}
		g.logger.Debug("gemini retry", "model", model, "version", version, "attempt", attempt, "status", r.status, "wait", wait)
		return wait, true, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.status < 200 || resp.status > 299 {
		return nil, &APIError{StatusCode: resp.status, Body: string(resp.body), Model: model, APIVersion: version}
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode response: %w", err), errorsx.ReasonGeneration)
	}
	out := &Result{Text: decoded.text(), Model: model, APIVersion: version}
	if decoded.Error != nil {
		out.Message = decoded.Error.Message
	}
	return out, nil
}

type attemptResult struct {
	status int
	header http.Header
	body   []byte
}

func (g *Gateway) attempt(ctx context.Context, endpoint, model, version string, payload []byte) (*attemptResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.GeminiRequest(model, version, 0)
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	g.metrics.GeminiRequest(model, version, resp.StatusCode)
	g.logger.Debug("gemini call", "model", model, "version", version, "status", resp.StatusCode, "elapsed", time.Since(start))
	g.logger.Log(ctx, config.LevelTrace, "response payload", "model", model, "json", truncate(string(body), 800))
	return &attemptResult{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
