package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/connwatch"
	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/style"
	"github.com/nugget/linebot-mcp/internal/tools"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// quotaSource feeds the get_message_quota test tool.
type quotaSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (q *quotaSource) handler(context.Context, map[string]any) (any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return map[string]any{"limited": 500, "totalUsage": 120}, nil
}

type testEnv struct {
	ws    *WebServer
	mux   *http.ServeMux
	root  string
	bus   *events.Bus
	quota *quotaSource
	now   time.Time
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		root:  t.TempDir(),
		bus:   events.New(),
		quota: &quotaSource{},
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	reg := tools.NewRegistry(nil, usage.NewLedger(nil, nil, nil, nil), nil)
	reg.Register(&tools.Tool{
		Name:        "get_message_quota",
		Description: "quota",
		Parameters:  map[string]any{"type": "object"},
		Handler:     env.quota.handler,
	})
	reg.Register(&tools.Tool{
		Name:        "echo",
		Description: "echo args",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			if _, ok := args["bad"]; ok {
				return nil, &tools.ArgsError{Tool: "echo", Field: "bad", Msg: "not allowed"}
			}
			return args, nil
		},
	})

	cfg := Config{
		Tools:   reg,
		Ledger:  usage.NewLedger(nil, nil, nil, nil),
		Presets: style.Presets{Dir: filepath.Join(env.root, "docs", "ai-presets")},
		Root:    env.root,
		Bus:     env.bus,
		HealthFunc: func() []connwatch.Status {
			return []connwatch.Status{{Name: "mssql", Ready: false, LastError: "connection refused"}}
		},
		Now:    func() time.Time { return env.now },
		Logger: slog.Default(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	env.ws = NewWebServer(cfg)
	env.mux = http.NewServeMux()
	env.ws.RegisterRoutes(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return v
}

func TestDashboard_FullPage(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/", "")

	if w.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"<!DOCTYPE html>", "<nav", "LINE Bot", buildinfo.Version, "mssql", "connection refused"} {
		if !strings.Contains(body, want) {
			t.Errorf("GET / response missing %q", want)
		}
	}
}

func TestDashboard_HtmxPartial(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("HX-Request", "true")
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("htmx partial should not include the layout")
	}
	if !strings.Contains(body, "Overview") {
		t.Error("htmx partial missing page content")
	}
}

func TestDashboard_UnknownPath(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, "GET", "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", w.Code)
	}
}

func TestStyle_PutMergesOverDefaults(t *testing.T) {
	env := newTestEnv(t)
	sub := env.bus.Subscribe(4)
	defer env.bus.Unsubscribe(sub)

	w := env.do(t, "PUT", "/api/ai-style", `{"tone":"formal","emojiLevel":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", w.Code, w.Body)
	}
	got := decode[style.Config](t, w)
	if got.Tone != "formal" || got.EmojiLevel != 0 || got.PersonaName != "Default" || got.Language != "th" {
		t.Errorf("merged style = %+v", got)
	}

	w = env.do(t, "GET", "/api/ai-style", "")
	if reread := decode[style.Config](t, w); reread != got {
		t.Errorf("GET after PUT = %+v, want %+v", reread, got)
	}

	select {
	case ev := <-sub:
		if ev.Kind != events.KindStyleSaved {
			t.Errorf("event kind = %q, want %q", ev.Kind, events.KindStyleSaved)
		}
	default:
		t.Error("no style_saved event published")
	}
}

func TestStyle_PutRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, "PUT", "/api/ai-style", `{"tone":`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStyleBundle(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "docs/ai-presets/brand.md", strings.Repeat("ก", 2500))

	w := env.do(t, "GET", "/api/style-bundle", "")
	got := decode[StyleBundle](t, w)

	if !strings.HasSuffix(got.Brand, "\n... (truncated)") {
		t.Error("long brand should be truncated")
	}
	if n := len([]rune(strings.TrimSuffix(got.Brand, "\n... (truncated)"))); n != maxBrandLen {
		t.Errorf("brand runes = %d, want %d", n, maxBrandLen)
	}
	if !strings.HasPrefix(got.StyleText, "# Brand/Style Rules") {
		t.Errorf("styleText = %q", got.StyleText)
	}
	if got.PrecedenceNote != style.PrecedenceNote {
		t.Errorf("precedenceNote = %q", got.PrecedenceNote)
	}
}

func TestTemplates(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "docs/ai-presets/templates.json", `{"welcome":{"text":"hi"}}`)

	got := decode[map[string]any](t, env.do(t, "GET", "/api/templates", ""))
	if _, ok := got["welcome"]; !ok {
		t.Errorf("templates = %v, want welcome key", got)
	}
}

func TestFiles_List(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "docs/b.md", "b")
	env.write(t, "docs/sub/a.MD", "a")
	env.write(t, "docs/ai-presets/brand.md", "brand")
	env.write(t, "docs/notes.txt", "x")
	env.write(t, "outside.md", "x")

	got := decode[map[string][]string](t, env.do(t, "GET", "/api/files", ""))
	want := []string{"docs/b.md", "docs/sub/a.MD"}
	if strings.Join(got["files"], ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", got["files"], want)
	}
}

func TestFiles_ListWithoutDocs(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/files", "")
	if strings.TrimSpace(w.Body.String()) != `{"files":[]}` {
		t.Errorf("body = %s, want empty list", w.Body)
	}
}

func TestFile_Get(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "docs/k.md", "# Knowledge")
	env.write(t, "secret.md", "no")

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"ok", "?path=docs/k.md", http.StatusOK},
		{"missing path", "", http.StatusBadRequest},
		{"outside docs", "?path=secret.md", http.StatusForbidden},
		{"traversal", "?path=docs/../secret.md", http.StatusForbidden},
		{"absolute", "?path=/etc/passwd", http.StatusForbidden},
		{"not found", "?path=docs/none.md", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/api/file"+tt.query, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			if tt.status == http.StatusOK {
				got := decode[fileBody](t, w)
				if got.Path != "docs/k.md" || got.Content != "# Knowledge" {
					t.Errorf("body = %+v", got)
				}
			}
		})
	}
}

func TestFile_Put(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/file", `{"path":"docs/new/k.md","content":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	data, err := os.ReadFile(filepath.Join(env.root, "docs", "new", "k.md"))
	if err != nil || string(data) != "hello" {
		t.Errorf("file = %q, %v", data, err)
	}

	if w := env.do(t, "PUT", "/api/file", `{"path":"../evil.md","content":"x"}`); w.Code != http.StatusForbidden {
		t.Errorf("outside docs status = %d, want 403", w.Code)
	}
	if w := env.do(t, "PUT", "/api/file", `{"content":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d, want 400", w.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "docs/k.md", "# Title\n\n<script>alert(1)</script>\n")

	w := env.do(t, "GET", "/api/file/preview?path=docs/k.md", "")
	body := w.Body.String()
	if !strings.Contains(body, "<h1>Title</h1>") {
		t.Errorf("preview = %s", body)
	}
	if strings.Contains(body, "<script>") {
		t.Error("raw HTML should not pass through the preview")
	}

	page := env.do(t, "GET", "/knowledge?path=docs/k.md", "").Body.String()
	if !strings.Contains(page, "<h1>Title</h1>") || !strings.Contains(page, "docs/k.md") {
		t.Error("knowledge page missing preview or file list")
	}
}

func TestQuota_CachesAndFallsBack(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/line-quota", "")
	got := decode[QuotaView](t, w)
	if got != (QuotaView{Limited: 500, TotalUsage: 120, Remaining: 380}) {
		t.Fatalf("quota = %+v", got)
	}

	env.do(t, "GET", "/api/line-quota", "")
	if env.quota.calls != 1 {
		t.Errorf("tool calls = %d, want 1 within cache window", env.quota.calls)
	}

	env.now = env.now.Add(2 * time.Minute)
	env.quota.err = errors.New("LINE API error 500: down")
	w = env.do(t, "GET", "/api/line-quota", "")
	if w.Code != http.StatusOK || w.Header().Get("X-Cache-Fallback") != "1" {
		t.Fatalf("fallback status = %d header = %q", w.Code, w.Header().Get("X-Cache-Fallback"))
	}
	if env.quota.calls != 2 {
		t.Errorf("tool calls = %d, want 2 after expiry", env.quota.calls)
	}
}

func TestQuota_ErrorWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	env.quota.err = errors.New("boom")
	if w := env.do(t, "GET", "/api/line-quota", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func quotaSnapshot(limited, used *int64) quota.Snapshot {
	return quota.Snapshot{Limited: limited, TotalUsage: used}
}

func TestQuotaView(t *testing.T) {
	n := func(v int64) *int64 { return &v }
	if got := quotaView(quotaSnapshot(n(100), n(150))); got.Remaining != 0 {
		t.Errorf("over-limit remaining = %d, want 0", got.Remaining)
	}
	if got := quotaView(quotaSnapshot(nil, n(10))); got != (QuotaView{TotalUsage: 10}) {
		t.Errorf("unlimited = %+v", got)
	}
}

func TestTools_ListAndCall(t *testing.T) {
	env := newTestEnv(t)

	list := decode[map[string][]map[string]any](t, env.do(t, "GET", "/api/tools", ""))
	if len(list["tools"]) != 2 || list["tools"][0]["name"] != "get_message_quota" {
		t.Errorf("tools = %v", list)
	}
	if _, ok := list["tools"][0]["inputSchema"]; !ok {
		t.Error("tool listing missing inputSchema")
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"ok", `{"name":"echo","args":{"x":1}}`, http.StatusOK},
		{"no args", `{"name":"echo"}`, http.StatusOK},
		{"unknown", `{"name":"nope"}`, http.StatusNotFound},
		{"bad args", `{"name":"echo","args":{"bad":true}}`, http.StatusBadRequest},
		{"bad body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/call", tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
		})
	}

	w := env.do(t, "POST", "/api/call", `{"name":"echo","args":{"x":1}}`)
	res := decode[tools.Result](t, w)
	if res.IsError || res.Text() != `{"x":1}` {
		t.Errorf("result = %+v", res)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	got := decode[usage.Stats](t, env.do(t, "GET", "/api/stats", ""))
	if got.RecentEvents == nil {
		t.Error("recentEvents should be an empty list, not null")
	}
}

func TestUsage(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := usage.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, func(c *Config) { c.Ledger = usage.NewLedger(store, nil, nil, nil) })
	ctx := context.Background()
	for _, r := range []usage.Record{
		{Timestamp: env.now.Add(-time.Hour), Tool: "push_text_message", Type: "push", OK: true},
		{Timestamp: env.now.Add(-30 * time.Hour), Tool: "broadcast_text_message", Type: "broadcast", OK: true},
	} {
		if err := store.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	day := decode[usage.Report](t, env.do(t, "GET", "/api/usage", ""))
	if day.Total.Calls != 1 || day.Total.Pushes != 1 {
		t.Errorf("24h total = %+v", day.Total)
	}
	week := decode[usage.Report](t, env.do(t, "GET", "/api/usage?hours=168", ""))
	if week.Total.Calls != 2 || week.Total.Broadcasts != 1 {
		t.Errorf("168h total = %+v", week.Total)
	}
	for _, q := range []string{"0", "721", "x"} {
		if w := env.do(t, "GET", "/api/usage?hours="+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("hours=%s status = %d, want 400", q, w.Code)
		}
	}

	noHistory := newTestEnv(t)
	if w := noHistory.do(t, "GET", "/api/usage", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without store status = %d, want 503", w.Code)
	}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(c *Config) {
		c.Username = "ops"
		c.PasswordHash = string(hash)
	})

	tests := []struct {
		name       string
		user, pass string
		set        bool
		status     int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "ops", "nope", true, http.StatusUnauthorized},
		{"wrong user", "admin", "s3cret", true, http.StatusUnauthorized},
		{"valid", "ops", "s3cret", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/stats", nil)
			if tt.set {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			env.mux.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestEvents_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.bus.Emit(events.SourceWebhook, events.KindMessageReceived, map[string]any{"user_id": "U1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Source != events.SourceWebhook || ev.Kind != events.KindMessageReceived || ev.Data["user_id"] != "U1" {
		t.Errorf("event = %+v", ev)
	}
}
