package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/httpkit"
)

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

func newTestGateway(t *testing.T, h http.HandlerFunc, strict bool) (*Gateway, *recordedSleep) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rs := &recordedSleep{}
	g := NewGateway(Options{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Strict:  strict,
		Retry:   RetryPolicy{Sleep: rs.sleep},
	})
	return g, rs
}

func okBody(parts ...string) string {
	ps := make([]map[string]string, len(parts))
	for i, p := range parts {
		ps[i] = map[string]string{"text": p}
	}
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{"content": map[string]any{"parts": ps}}},
	})
	return string(b)
}

func TestGenerateOnce_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateRequest
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(okBody("Hello, ", "world")))
	}, false)

	res, err := g.GenerateOnce(context.Background(), "gemini-2.0-flash", APIVersionV1, "hi")
	if err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	if res.Text != "Hello, world" {
		t.Errorf("Text = %q", res.Text)
	}
	if gotPath != "/v1/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" || gotBody.Contents[0].Parts[0].Text != "hi" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestGenerateOnce_EmptyCandidates(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[],"error":{"code":400,"message":"blocked"}}`))
	}, false)

	res, err := g.GenerateOnce(context.Background(), "m", APIVersionV1, "hi")
	if err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	if res.Text != "" || res.Message != "blocked" {
		t.Errorf("res = %+v", res)
	}
}

func TestGenerateOnce_RetryAfterHonored(t *testing.T) {
	calls := 0
	g, rs := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if calls == 2 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(okBody("ok")))
	}, false)

	res, err := g.GenerateOnce(context.Background(), "m", APIVersionV1, "hi")
	if err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q", res.Text)
	}
	want := []time.Duration{2 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(rs.waits, want) {
		t.Errorf("waits = %v, want %v", rs.waits, want)
	}
}

func TestGenerateOnce_RetriesExhausted(t *testing.T) {
	calls := 0
	g, rs := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}, false)

	_, err := g.GenerateOnce(context.Background(), "m", APIVersionV1, "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Fatalf("err = %v, want 503 APIError", err)
	}
	if apiErr.Error() != "HTTP 503 Service Unavailable - overloaded" {
		t.Errorf("Error() = %q", apiErr.Error())
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if !reflect.DeepEqual(rs.waits, want) {
		t.Errorf("waits = %v, want %v", rs.waits, want)
	}
}

func TestGenerateOnce_NoRetryOnClientError(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}, false)

	if _, err := g.GenerateOnce(context.Background(), "m", APIVersionV1, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGenerate_FallbackChain(t *testing.T) {
	var seen []string
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, strings.TrimSuffix(r.URL.Path, ":generateContent"))
		switch r.URL.Path {
		case "/v1/models/foo:generateContent", "/v1beta/models/foo:generateContent":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/models/foo-latest:generateContent":
			w.WriteHeader(http.StatusForbidden)
		case "/v1/models/gemini-2.0-flash:generateContent":
			w.Write([]byte(okBody("fallback")))
		default:
			t.Errorf("unexpected call %s", r.URL.Path)
		}
	}, false)

	res, err := g.Generate(context.Background(), "foo", "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "fallback" || res.Model != "gemini-2.0-flash" || res.APIVersion != APIVersionV1 {
		t.Errorf("res = %+v", res)
	}
	want := []string{
		"/v1/models/foo", "/v1beta/models/foo",
		"/v1/models/foo-latest",
		"/v1/models/gemini-2.0-flash",
	}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("calls = %v, want %v", seen, want)
	}
}

func TestGenerate_RetriedOutagesReachFallback(t *testing.T) {
	var mu sync.Mutex
	failures := 0
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models/gemini-2.0-flash:generateContent" {
			w.Write([]byte(okBody("fallback")))
			return
		}
		mu.Lock()
		failures++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}, false)

	// Each generation retries foo and foo-latest four times apiece, well
	// past the breaker threshold, before the fallback answers.
	for i := 0; i < 3; i++ {
		res, err := g.Generate(context.Background(), "foo", "hi")
		if err != nil {
			t.Fatalf("Generate #%d: %v", i, err)
		}
		if res.Model != "gemini-2.0-flash" || res.Text != "fallback" {
			t.Errorf("Generate #%d res = %+v", i, res)
		}
	}
	if failures != 24 {
		t.Errorf("503 responses = %d, want 24", failures)
	}
}

func TestGenerate_ExhaustedGenerationsOpenBreaker(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, true)

	for i := 0; i < httpkit.BreakerFailures; i++ {
		_, err := g.Generate(context.Background(), "foo", "hi")
		if err == nil || strings.Contains(err.Error(), "circuit open") {
			t.Fatalf("Generate #%d err = %v, want exhausted 503", i, err)
		}
	}
	before := calls
	_, err := g.Generate(context.Background(), "foo", "hi")
	if err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("err = %v, want circuit open", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonGeneration) {
		t.Errorf("reason = %s", errorsx.Reason(err))
	}
	if calls != before {
		t.Errorf("open breaker made %d calls", calls-before)
	}
}

func TestGenerate_ClientErrorsKeepBreakerClosed(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, true)

	for i := 0; i < httpkit.BreakerFailures*2; i++ {
		_, err := g.Generate(context.Background(), "foo", "hi")
		if err == nil || strings.Contains(err.Error(), "circuit open") {
			t.Fatalf("Generate #%d err = %v, want 404", i, err)
		}
	}
}

func TestGenerate_StrictOnlyRequestedModel(t *testing.T) {
	var seen []string
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such model"))
	}, true)

	_, err := g.Generate(context.Background(), "foo", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonGeneration) {
		t.Errorf("reason = %s", errorsx.Reason(err))
	}
	if err.Error() != "Gemini API error: HTTP 404 Not Found - no such model" {
		t.Errorf("Error() = %q", err.Error())
	}
	if len(seen) != 1 || seen[0] != "/v1/models/foo:generateContent" {
		t.Errorf("calls = %v", seen)
	}
}

func TestGenerate_NoAPIKey(t *testing.T) {
	g := NewGateway(Options{BaseURL: "http://127.0.0.1:1"})
	_, err := g.Generate(context.Background(), "m", "hi")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Errorf("reason = %s", errorsx.Reason(err))
	}
}

func TestCandidateModels(t *testing.T) {
	tests := []struct {
		model  string
		strict bool
		want   []string
	}{
		{"gemini-1.5-flash", false, []string{"gemini-1.5-flash", "gemini-1.5-flash-latest", "gemini-2.0-flash", "gemini-2.0-flash-latest"}},
		{"gemini-2.0-flash", false, []string{"gemini-2.0-flash", "gemini-2.0-flash-latest", "gemini-1.5-flash-latest"}},
		{"custom-latest", false, []string{"custom-latest", "gemini-2.0-flash", "gemini-2.0-flash-latest", "gemini-1.5-flash-latest"}},
		{"custom", true, []string{"custom"}},
	}
	for _, tt := range tests {
		got := CandidateModels(tt.model, tt.strict)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CandidateModels(%q, %v) = %v, want %v", tt.model, tt.strict, got, tt.want)
		}
	}
}

func TestCandidateChain_StateMachine(t *testing.T) {
	c := NewCandidateChain("a-latest", false)
	var got []Candidate
	for {
		cand, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, cand)
		if cand.Model == "a-latest" {
			c.Fail(&APIError{StatusCode: 404})
		} else {
			c.Fail(&APIError{StatusCode: 500})
		}
	}
	want := []Candidate{
		{"a-latest", "v1"}, {"a-latest", "v1beta"},
		{"gemini-2.0-flash", "v1"},
		{"gemini-2.0-flash-latest", "v1"},
		{"gemini-1.5-flash-latest", "v1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sequence = %v, want %v", got, want)
	}
	if c.LastError().StatusCode != 500 {
		t.Errorf("last = %v", c.LastError())
	}
}
