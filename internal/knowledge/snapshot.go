package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/linebot-mcp/internal/mssql"
)

// Introspection queries used for the schema snapshot.
const (
	tableCountSQL = "SELECT COUNT(*) AS tableCount FROM sys.tables WHERE is_ms_shipped = 0"
	tableListSQL  = "SELECT TOP 100 s.name AS schema_name, t.name AS table_name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE t.is_ms_shipped = 0 ORDER BY t.name"
	columnListSQL = "SELECT TOP 300 TABLE_SCHEMA AS schema_name, TABLE_NAME AS table_name, COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION"
)

// Snapshot describes the database's user tables and columns. Any query
// failure yields "".
func Snapshot(ctx context.Context, q mssql.Querier) string {
	count, err := q.Query(ctx, tableCountSQL, nil)
	if err != nil {
		return ""
	}
	parts := []string{"# Database Snapshot"}
	if len(count.Rows) > 0 {
		if n, ok := asInt(count.Rows[0]["tableCount"]); ok {
			parts = append(parts, fmt.Sprintf("Tables (user): %d", n))
		}
	}

	tables, err := q.Query(ctx, tableListSQL, nil)
	if err != nil {
		return ""
	}
	if len(tables.Rows) > 0 {
		parts = append(parts, "\n## Tables (top 100)")
		for _, r := range tables.Rows {
			parts = append(parts, fmt.Sprintf("- %s.%s", Cell(r["schema_name"]), Cell(r["table_name"])))
		}
	}

	cols, err := q.Query(ctx, columnListSQL, nil)
	if err != nil {
		return ""
	}
	if len(cols.Rows) > 0 {
		parts = append(parts, "\n## Columns (top 300)")
		for _, r := range cols.Rows {
			parts = append(parts, fmt.Sprintf("- %s.%s.%s (%s)",
				Cell(r["schema_name"]), Cell(r["table_name"]), Cell(r["COLUMN_NAME"]), Cell(r["DATA_TYPE"])))
		}
	}
	return Truncate(strings.Join(parts, "\n"), MaxChars)
}

// QueryBlock runs sql and renders a "# Query Result" section. An empty
// sql yields ""; a failure yields "Query error: ..." so the model can
// see what went wrong.
func QueryBlock(ctx context.Context, q mssql.Querier, sql string, params map[string]any, limit int) string {
	if strings.TrimSpace(sql) == "" {
		return ""
	}
	res, err := q.Query(ctx, sql, params)
	if err != nil {
		return "Query error: " + err.Error()
	}
	limit = min(200, max(1, limit))
	text := fmt.Sprintf("# Query Result\nColumns: %s\nRow count: %d\n\n%s",
		strings.Join(res.Columns, ", "), len(res.Rows), RowsToMarkdown(res, limit))
	return Truncate(text, MaxChars)
}

// RowsToMarkdown renders up to maxRows rows as a markdown table, or
// "(no rows)" when the result is empty.
func RowsToMarkdown(res *mssql.Result, maxRows int) string {
	if res == nil || len(res.Rows) == 0 {
		return "(no rows)"
	}
	cols := res.Columns
	seps := make([]string, len(cols))
	for i := range seps {
		seps[i] = "---"
	}
	lines := []string{
		"| " + strings.Join(cols, " | ") + " |",
		"| " + strings.Join(seps, " | ") + " |",
	}
	for i, r := range res.Rows {
		if i >= maxRows {
			break
		}
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = Cell(r[c])
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

// Cell formats a column value for display; nil is empty.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
