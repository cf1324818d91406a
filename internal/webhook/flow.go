package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/opstate"
	"github.com/nugget/linebot-mcp/internal/style"
	"github.com/nugget/linebot-mcp/internal/tools"
)

// Reply texts.
const (
	msgLoginDB      = "เชื่อมต่อฐานข้อมูล (MSSQL) สำหรับโหมดถาม/ตอบแล้ว"
	msgLogoutDB     = "ยกเลิกโหมดฐานข้อมูล ใช้ไฟล์ความรู้แทน"
	msgUnknownTable = "ยังไม่ทราบตาราง (โปรดระบุ)"
	msgNoTables     = "(ไม่พบตาราง)"
)

const (
	commandModel = "gemini-2.0-flash"
	previewRows  = 10
	previewCols  = 3
	defaultLimit = 10
)

// turn is one inbound text being routed. pref is the state loaded when
// the message arrived; updates made while routing are persisted but do
// not change how the current message is answered.
type turn struct {
	userID string
	dest   string
	text   string
	pref   opstate.Preference
}

// lower is the lowercase form used for keyword matching.
func (t *turn) lower() string { return strings.ToLower(t.text) }

func (h *Handler) handleText(ctx context.Context, userID, text string) {
	t := &turn{userID: userID, text: text, dest: userID}
	if t.dest == "" {
		t.dest = h.cfg.DestinationUserID
	}

	lower := t.lower()
	switch {
	case strings.Contains(lower, "login db"):
		h.savePref(ctx, userID, opstate.Preference{KnowledgeSource: opstate.SourceMSSQL})
		h.metrics.WebhookEvent("login")
		h.reply(ctx, t, msgLoginDB)
		return
	case strings.Contains(lower, "logout db"):
		h.savePref(ctx, userID, opstate.Preference{KnowledgeSource: opstate.SourceFile})
		h.metrics.WebhookEvent("logout")
		h.reply(ctx, t, msgLogoutDB)
		return
	}

	pref := opstate.DefaultPreference()
	if userID != "" {
		p, err := h.prefs.Get(ctx, userID)
		if err != nil {
			h.logger.Warn("preference lookup failed", "user_id", userID, "error", err)
		} else {
			pref = p
		}
	}
	t.pref = pref

	h.bus.Emit(events.SourceWebhook, events.KindMessageReceived, map[string]any{
		"user_id":          userID,
		"knowledge_source": pref.KnowledgeSource,
		"message_len":      len([]rune(text)),
	})

	if table, ok := MentionedTable(lower); ok {
		next := t.pref
		next.LastTable = table
		h.savePref(ctx, userID, next)
	}
	if t.pref.LastTable != "" {
		t.text = ReplacePronouns(t.text, t.pref.LastTable)
	}

	if t.pref.KnowledgeSource == opstate.SourceMSSQL && h.answerFromDB(ctx, t) {
		return
	}

	h.metrics.WebhookEvent("command")
	args := map[string]any{
		"instruction":     t.text,
		"model":           commandModel,
		"mode":            "auto",
		"userId":          t.dest,
		"knowledgeSource": t.pref.KnowledgeSource,
	}
	if t.pref.KnowledgeSource == opstate.SourceFile {
		args["filePath"] = h.cfg.DefaultKnowledgeFile
	}
	if _, err := h.call(ctx, "gemini_command", args); err != nil {
		h.logger.Warn("gemini_command failed", "user_id", userID, "error", err)
	}
}

// answerFromDB runs the database branches in order and reports whether
// one of them answered the message.
func (h *Handler) answerFromDB(ctx context.Context, t *turn) bool {
	table := t.pref.LastTable

	if countPattern.MatchString(t.text) && table != "" {
		if h.answerCount(ctx, t) {
			h.metrics.WebhookEvent("count")
			return true
		}
	}

	if whichTablePattern.MatchString(t.text) {
		msg := msgUnknownTable
		if table != "" {
			msg = "จากตาราง " + table
		}
		if h.reply(ctx, t, msg) == nil {
			h.metrics.WebhookEvent("which_table")
			return true
		}
	}

	if allTablesPattern.MatchString(t.text) {
		if h.answerTables(ctx, t) {
			h.metrics.WebhookEvent("all_tables")
			return true
		}
	}

	if table != "" {
		if showAgainPattern.MatchString(t.text) {
			lim := t.pref.LastLimit
			if lim <= 0 {
				lim = defaultLimit
			}
			t.text = ShowInstruction(table, lim)
		}
		if n, ok := ShowCount(t.lower()); ok {
			t.text = ShowInstruction(table, n)
			next := t.pref
			next.LastLimit = n
			h.savePref(ctx, t.userID, next)
		}
	}

	if h.answerQuery(ctx, t) {
		h.metrics.WebhookEvent("ai_query")
		return true
	}
	return false
}

func (h *Handler) answerCount(ctx context.Context, t *turn) bool {
	table := t.pref.LastTable
	payload, err := h.callJSON(ctx, "query_mssql", map[string]any{
		"sql":   "SELECT COUNT(1) AS total_count FROM " + table,
		"limit": 1,
	})
	if err != nil {
		h.logger.Debug("count query failed", "table", table, "error", err)
		return false
	}
	count := strconv.Itoa(t.pref.LastRowCount)
	if rows := payload.rows(); len(rows) > 0 {
		if v, ok := rows[0]["total_count"]; ok && v != nil {
			count = display(v)
		}
	}
	return h.reply(ctx, t, fmt.Sprintf("ทั้งหมด %s รายการ (จาก %s)", count, table)) == nil
}

func (h *Handler) answerTables(ctx context.Context, t *turn) bool {
	payload, err := h.callJSON(ctx, "query_mssql", map[string]any{
		"sql":   tools.TablesQuery,
		"limit": 50,
	})
	if err != nil {
		h.logger.Debug("table list failed", "error", err)
		return false
	}
	var lines []string
	for _, r := range payload.rows() {
		lines = append(lines, fmt.Sprintf("- %s.%s", display(r["schema_name"]), display(r["table_name"])))
		if len(lines) == 50 {
			break
		}
	}
	msg := strings.Join(lines, "\n")
	if msg == "" {
		msg = msgNoTables
	}
	return h.reply(ctx, t, msg) == nil
}

func (h *Handler) answerQuery(ctx context.Context, t *turn) bool {
	args := map[string]any{
		"instruction": t.text,
		"maxRows":     previewRows,
	}
	if t.pref.LastTable != "" {
		args["allowedTables"] = []string{t.pref.LastTable}
	}
	payload, err := h.callJSON(ctx, "ai_query_mssql", args)
	if err != nil {
		h.logger.Debug("ai query failed, falling back", "error", err)
		return false
	}
	if _, ok := payload["rows"].([]any); !ok {
		return false
	}

	if err := h.reply(ctx, t, FormatRows(payload)); err != nil {
		return false
	}

	next := t.pref
	if table, ok := FromTable(display(payload["sql"])); ok {
		next.LastTable = table
	}
	next.LastLimit = previewRows
	next.LastRowCount = payload.rowCount()
	h.savePref(ctx, t.userID, next)
	return true
}

// reply pushes text to the turn's recipient.
func (h *Handler) reply(ctx context.Context, t *turn, text string) error {
	_, err := h.call(ctx, "push_text_message", map[string]any{
		"userId":  t.dest,
		"message": map[string]any{"type": "text", "text": text},
	})
	if err != nil {
		h.logger.Warn("reply failed", "user_id", t.userID, "error", err)
	}
	return err
}

// call invokes a tool and folds an error result into the returned error.
func (h *Handler) call(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	if h.tools == nil {
		return nil, errors.New("no tool caller configured")
	}
	res, err := h.tools.Call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, errors.New(res.Text())
	}
	return res, nil
}

// callJSON invokes a tool whose text content is a JSON object.
func (h *Handler) callJSON(ctx context.Context, name string, args map[string]any) (payload, error) {
	res, err := h.call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(res.Text()))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%s returned non-JSON content: %w", name, err)
	}
	return p, nil
}

// savePref persists p for userID. Anonymous sources keep no state.
func (h *Handler) savePref(ctx context.Context, userID string, p opstate.Preference) {
	if userID == "" {
		return
	}
	if err := h.prefs.Set(ctx, userID, p); err != nil {
		h.logger.Warn("preference save failed", "user_id", userID, "error", err)
		return
	}
	h.bus.Emit(events.SourceWebhook, events.KindPreference, map[string]any{
		"user_id":          userID,
		"knowledge_source": p.KnowledgeSource,
		"last_table":       p.LastTable,
	})
}

// payload is a decoded tool result.
type payload map[string]any

func (p payload) rows() []map[string]any {
	raw, _ := p["rows"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (p payload) rowCount() int {
	if n, ok := p["rowCount"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			return int(v)
		}
	}
	return len(p.rows())
}

func (p payload) columns() []string {
	if raw, ok := p["columns"].([]any); ok {
		cols := make([]string, 0, len(raw))
		for _, c := range raw {
			cols = append(cols, display(c))
		}
		return cols
	}
	rows := p.rows()
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// FormatRows renders a query result as a short chat message: a header
// with the shown and total row counts, then up to ten numbered rows of
// the first three columns.
func FormatRows(p map[string]any) string {
	pl := payload(p)
	rows := pl.rows()
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}
	cols := pl.columns()
	if len(cols) > previewCols {
		cols = cols[:previewCols]
	}

	lines := []string{fmt.Sprintf("ผลลัพธ์ %d / %d แถว", len(rows), pl.rowCount())}
	for i, r := range rows {
		fields := make([]string, len(cols))
		for j, c := range cols {
			fields[j] = c + ": " + display(r[c])
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.Join(fields, ", ")))
	}
	return style.Clamp(strings.Join(lines, "\n"), style.MaxMessageLen)
}

// display renders a decoded JSON value the way it reads in chat.
func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
