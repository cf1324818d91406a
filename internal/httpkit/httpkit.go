// Package httpkit holds the outbound HTTP plumbing shared by the LINE
// client, the Gemini gateway and the object uploader: client
// construction, error-body handling, retry pacing and circuit breakers.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
)

// ClientOption configures NewClient.
type ClientOption func(*http.Client)

// WithTimeout sets the whole-request deadline; zero means none.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *http.Client) { c.Timeout = d }
}

// NewClient returns a client for the LINE, Gemini and upload endpoints:
// 30s request timeout, a pooled transport sized for a handful of hosts,
// and the linebot User-Agent on requests that do not set their own.
func NewClient(opts ...ClientOption) *http.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
	c := &http.Client{
		Timeout:   30 * time.Second,
		Transport: userAgent{base: transport, value: buildinfo.UserAgent()},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type userAgent struct {
	base  http.RoundTripper
	value string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.value)
	return u.base.RoundTrip(req)
}

// DrainAndClose discards up to limit bytes and closes rc so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns the first limit bytes of a failed response for
// use in an error message, then drains and closes rc.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(unreadable body: %v)", err)
	}
	return strings.TrimSpace(string(body))
}

// RetryableStatus reports whether an HTTP status is worth retrying:
// rate limiting and transient upstream failures.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// RetryAfter parses a Retry-After header given in whole seconds.
// HTTP-date values are not honoured; callers fall back to backoff.
func RetryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Backoff returns base·2^attempt capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
