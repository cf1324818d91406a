package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/opstate"
	"github.com/nugget/linebot-mcp/internal/tools"
)

const secret = "channel-secret"

type call struct {
	name string
	args map[string]any
}

// fakeCaller records tool calls. Tools without a handler succeed with {}.
type fakeCaller struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(args map[string]any) *tools.Result
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: make(map[string]func(map[string]any) *tools.Result)}
}

func (f *fakeCaller) Call(_ context.Context, name string, args map[string]any) (*tools.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	h := f.handlers[name]
	f.mu.Unlock()
	if h == nil {
		return tools.Success(map[string]any{}), nil
	}
	return h(args), nil
}

func (f *fakeCaller) named(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// pushed returns the texts sent with push_text_message.
func (f *fakeCaller) pushed() []string {
	var out []string
	for _, c := range f.named("push_text_message") {
		msg, _ := c.args["message"].(map[string]any)
		text, _ := msg["text"].(string)
		out = append(out, text)
	}
	return out
}

func textEvent(userID, text string) map[string]any {
	return map[string]any{
		"type":       "message",
		"replyToken": "r",
		"source":     map[string]any{"type": "user", "userId": userID},
		"message":    map[string]any{"id": "1", "type": "text", "text": text},
	}
}

func callback(t *testing.T, evs ...map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"destination": "Ubot", "events": evs})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func post(t *testing.T, h http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/line-webhook", strings.NewReader(string(body)))
	if sig != "" {
		req.Header.Set(line.SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newHandler(caller ToolCaller, prefs Preferences) *Handler {
	return New(Config{
		ChannelSecret:     secret,
		DestinationUserID: "Udest",
		RatePerSecond:     100,
		Burst:             100,
	}, caller, prefs, nil)
}

// send posts correctly signed text events from one user.
func send(t *testing.T, h *Handler, userID string, texts ...string) {
	t.Helper()
	var evs []map[string]any
	for _, text := range texts {
		evs = append(evs, textEvent(userID, text))
	}
	body := callback(t, evs...)
	rec := post(t, h, body, line.Sign(secret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"ok":true}` {
		t.Fatalf("body = %s, want {\"ok\":true}", got)
	}
}

func TestSignature(t *testing.T) {
	body := callback(t, textEvent("U1", "hello"))

	tests := []struct {
		name       string
		sig        string
		skip       bool
		wantStatus int
	}{
		{"valid", line.Sign(secret, body), false, http.StatusOK},
		{"missing", "", false, http.StatusUnauthorized},
		{"wrong secret", line.Sign("other", body), false, http.StatusUnauthorized},
		{"garbage", "not-base64!", false, http.StatusUnauthorized},
		{"skipped", "", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newFakeCaller()
			h := New(Config{ChannelSecret: secret, SkipVerify: tt.skip}, caller, nil, nil)
			rec := post(t, h, body, tt.sig)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"invalid signature"}` {
					t.Errorf("body = %s", got)
				}
				if len(caller.calls) != 0 {
					t.Errorf("tools called on rejected request: %v", caller.calls)
				}
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := New(Config{SkipVerify: true}, newFakeCaller(), nil, nil)
	rec := post(t, h, []byte("{not json"), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("body = %s, want error field", rec.Body)
	}
}

func TestNonTextEventsIgnored(t *testing.T) {
	caller := newFakeCaller()
	h := newHandler(caller, nil)
	body := callback(t,
		map[string]any{"type": "follow", "source": map[string]any{"type": "user", "userId": "U1"}},
		map[string]any{"type": "message", "source": map[string]any{"type": "user", "userId": "U1"},
			"message": map[string]any{"id": "2", "type": "sticker"}},
	)
	rec := post(t, h, body, line.Sign(secret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(caller.calls) != 0 {
		t.Errorf("calls = %v, want none", caller.calls)
	}
}

func TestLoginLogout(t *testing.T) {
	caller := newFakeCaller()
	prefs := opstate.NewMemory()
	h := newHandler(caller, prefs)
	ctx := context.Background()

	send(t, h, "U1", "Login DB please")
	p, _ := prefs.Get(ctx, "U1")
	if p.KnowledgeSource != opstate.SourceMSSQL {
		t.Errorf("after login source = %q, want mssql", p.KnowledgeSource)
	}

	send(t, h, "U1", "logout db")
	p, _ = prefs.Get(ctx, "U1")
	if p.KnowledgeSource != opstate.SourceFile {
		t.Errorf("after logout source = %q, want file", p.KnowledgeSource)
	}

	want := []string{msgLoginDB, msgLogoutDB}
	got := caller.pushed()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("pushed = %q, want %q", got, want)
	}
	if len(caller.named("gemini_command")) != 0 {
		t.Error("login/logout should not reach gemini_command")
	}
}

func TestFileModeFallsBackToCommand(t *testing.T) {
	caller := newFakeCaller()
	h := newHandler(caller, nil)

	send(t, h, "U1", "สินค้ามีอะไรบ้าง")

	calls := caller.named("gemini_command")
	if len(calls) != 1 {
		t.Fatalf("gemini_command calls = %d, want 1", len(calls))
	}
	args := calls[0].args
	want := map[string]any{
		"instruction":     "สินค้ามีอะไรบ้าง",
		"model":           "gemini-2.0-flash",
		"mode":            "auto",
		"userId":          "U1",
		"knowledgeSource": "file",
		"filePath":        "docs/data-learning/knowledge.md",
	}
	for k, v := range want {
		if args[k] != v {
			t.Errorf("args[%s] = %v, want %v", k, args[k], v)
		}
	}
	if len(caller.named("ai_query_mssql")) != 0 {
		t.Error("file mode should not query the database")
	}
}

func TestCommandUsesDestinationWithoutUser(t *testing.T) {
	caller := newFakeCaller()
	h := newHandler(caller, nil)

	send(t, h, "", "hello")

	calls := caller.named("gemini_command")
	if len(calls) != 1 || calls[0].args["userId"] != "Udest" {
		t.Fatalf("gemini_command calls = %v, want userId Udest", calls)
	}
}

func mssqlUser(t *testing.T, table string) *opstate.Memory {
	t.Helper()
	prefs := opstate.NewMemory()
	err := prefs.Set(context.Background(), "U1", opstate.Preference{
		KnowledgeSource: opstate.SourceMSSQL,
		LastTable:       table,
		LastRowCount:    7,
	})
	if err != nil {
		t.Fatal(err)
	}
	return prefs
}

func TestCountQuestion(t *testing.T) {
	caller := newFakeCaller()
	caller.handlers["query_mssql"] = func(args map[string]any) *tools.Result {
		return tools.Success(map[string]any{
			"columns": []string{"total_count"}, "rowCount": 1,
			"rows": []map[string]any{{"total_count": 42}},
		})
	}
	h := newHandler(caller, mssqlUser(t, "dbo.orders"))

	send(t, h, "U1", "ตารางนี้มีกี่รายการ")

	q := caller.named("query_mssql")
	if len(q) != 1 || q[0].args["sql"] != "SELECT COUNT(1) AS total_count FROM dbo.orders" {
		t.Fatalf("query_mssql calls = %v", q)
	}
	if got := caller.pushed(); len(got) != 1 || got[0] != "ทั้งหมด 42 รายการ (จาก dbo.orders)" {
		t.Errorf("pushed = %q", got)
	}
	if len(caller.named("ai_query_mssql")) != 0 {
		t.Error("count answer should stop the flow")
	}
}

func TestCountFailureFallsThrough(t *testing.T) {
	caller := newFakeCaller()
	caller.handlers["query_mssql"] = func(map[string]any) *tools.Result {
		return tools.Failure("MSSQL query failed: boom")
	}
	caller.handlers["ai_query_mssql"] = func(map[string]any) *tools.Result {
		return tools.Failure("ai_query_mssql failed: nope")
	}
	h := newHandler(caller, mssqlUser(t, "dbo.orders"))

	send(t, h, "U1", "count all")

	if len(caller.named("ai_query_mssql")) != 1 {
		t.Error("expected ai_query_mssql after count failure")
	}
	cmd := caller.named("gemini_command")
	if len(cmd) != 1 {
		t.Fatalf("gemini_command calls = %d, want 1", len(cmd))
	}
	if cmd[0].args["knowledgeSource"] != "mssql" {
		t.Errorf("knowledgeSource = %v, want mssql", cmd[0].args["knowledgeSource"])
	}
	if _, ok := cmd[0].args["filePath"]; ok {
		t.Error("mssql fallback should not set filePath")
	}
}

func TestWhichTable(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  string
	}{
		{"known", "dbo.orders", "จากตาราง dbo.orders"},
		{"unknown", "", msgUnknownTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newFakeCaller()
			h := newHandler(caller, mssqlUser(t, tt.table))
			send(t, h, "U1", "What table is that?")
			if got := caller.pushed(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("pushed = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllTables(t *testing.T) {
	tests := []struct {
		name string
		rows []map[string]any
		want string
	}{
		{
			"listed",
			[]map[string]any{
				{"schema_name": "dbo", "table_name": "customers"},
				{"schema_name": "sales", "table_name": "orders"},
			},
			"- dbo.customers\n- sales.orders",
		},
		{"empty", []map[string]any{}, msgNoTables},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newFakeCaller()
			caller.handlers["query_mssql"] = func(args map[string]any) *tools.Result {
				if args["sql"] != tools.TablesQuery {
					return tools.Failure("unexpected sql")
				}
				return tools.Success(map[string]any{"rows": tt.rows})
			}
			h := newHandler(caller, mssqlUser(t, ""))
			send(t, h, "U1", "แสดงข้อมูลทุกตาราง")
			if got := caller.pushed(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("pushed = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAIQuery(t *testing.T) {
	caller := newFakeCaller()
	caller.handlers["ai_query_mssql"] = func(args map[string]any) *tools.Result {
		return tools.Success(map[string]any{
			"sql":      "SELECT TOP 5 * FROM dbo.customer",
			"params":   map[string]any{},
			"columns":  []string{"id", "name", "city", "phone"},
			"rowCount": 2,
			"rows": []map[string]any{
				{"id": 1, "name": "Ann", "city": "BKK", "phone": "x"},
				{"id": 2, "name": "Bo", "city": nil, "phone": "y"},
			},
		})
	}
	prefs := mssqlUser(t, "dbo.customer")
	h := newHandler(caller, prefs)

	send(t, h, "U1", "แสดง 5 รายการ")

	ai := caller.named("ai_query_mssql")
	if len(ai) != 1 {
		t.Fatalf("ai_query_mssql calls = %d", len(ai))
	}
	if ai[0].args["maxRows"] != 10 {
		t.Errorf("maxRows = %v, want 10", ai[0].args["maxRows"])
	}
	if got, _ := ai[0].args["allowedTables"].([]string); len(got) != 1 || got[0] != "dbo.customer" {
		t.Errorf("allowedTables = %v, want [dbo.customer]", ai[0].args["allowedTables"])
	}
	if ai[0].args["instruction"] != "เข้าไป dbo.customer แสดง5 ข้อมูล" {
		t.Errorf("instruction = %v", ai[0].args["instruction"])
	}

	want := "ผลลัพธ์ 2 / 2 แถว\n1. id: 1, name: Ann, city: BKK\n2. id: 2, name: Bo, city: "
	if got := caller.pushed(); len(got) != 1 || got[0] != want {
		t.Errorf("pushed = %q, want %q", got, want)
	}

	p, _ := prefs.Get(context.Background(), "U1")
	if p.LastTable != "dbo.customer" || p.LastLimit != 10 || p.LastRowCount != 2 {
		t.Errorf("pref = %+v", p)
	}
	if len(caller.named("gemini_command")) != 0 {
		t.Error("successful query should not fall back")
	}
}

func TestTableMentionRemembered(t *testing.T) {
	caller := newFakeCaller()
	prefs := opstate.NewMemory()
	h := newHandler(caller, prefs)

	send(t, h, "U1", "ขอข้อมูลจาก Orders หน่อย")

	p, _ := prefs.Get(context.Background(), "U1")
	if p.LastTable != "dbo.orders" {
		t.Errorf("LastTable = %q, want dbo.orders", p.LastTable)
	}
	if p.KnowledgeSource != opstate.SourceFile {
		t.Errorf("KnowledgeSource = %q, want file", p.KnowledgeSource)
	}
	if len(caller.named("gemini_command")) != 1 {
		t.Error("file mode message should still reach gemini_command")
	}
}

func TestShowAgainRewritesInstruction(t *testing.T) {
	caller := newFakeCaller()
	prefs := opstate.NewMemory()
	prefs.Set(context.Background(), "U1", opstate.Preference{
		KnowledgeSource: opstate.SourceMSSQL, LastTable: "dbo.orders", LastLimit: 3,
	})
	h := newHandler(caller, prefs)

	send(t, h, "U1", "โชว์หน่อย")

	ai := caller.named("ai_query_mssql")
	if len(ai) != 1 || ai[0].args["instruction"] != "เข้าไป dbo.orders แสดง3 ข้อมูล" {
		t.Fatalf("ai_query_mssql calls = %v", ai)
	}
}

func TestRateLimit(t *testing.T) {
	caller := newFakeCaller()
	h := New(Config{SkipVerify: true, RatePerSecond: 0.001, Burst: 2}, caller, nil, nil)

	body := callback(t,
		textEvent("U1", "one"), textEvent("U1", "two"), textEvent("U1", "three"),
		textEvent("U2", "other"),
	)
	rec := post(t, h, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []string
	for _, c := range caller.named("gemini_command") {
		got = append(got, c.args["instruction"].(string))
	}
	want := []string{"one", "two", "other"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("handled = %q, want %q", got, want)
	}
}
