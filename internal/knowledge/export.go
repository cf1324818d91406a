package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/linebot-mcp/internal/mssql"
)

// ExportResult summarises a written knowledge file.
type ExportResult struct {
	OutputPath string `json:"outputPath"`
	Tables     int    `json:"tables"`
	Columns    int    `json:"columns"`
}

// Export writes a markdown description of the database schema to
// outPath (resolved under root). Each table gets its columns and a few
// example questions that work in database mode.
func Export(ctx context.Context, q mssql.Querier, root, outPath string, tableLimit, columnLimit int, now time.Time) (*ExportResult, error) {
	tables, err := q.Query(ctx, fmt.Sprintf(
		"SELECT TOP %d s.name AS schema_name, t.name AS table_name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE t.is_ms_shipped = 0 ORDER BY s.name, t.name",
		tableLimit), nil)
	if err != nil {
		return nil, err
	}
	cols, err := q.Query(ctx, fmt.Sprintf(
		"SELECT TOP %d TABLE_SCHEMA AS schema_name, TABLE_NAME AS table_name, COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH FROM INFORMATION_SCHEMA.COLUMNS ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION",
		columnLimit), nil)
	if err != nil {
		return nil, err
	}

	byTable := map[string][]map[string]any{}
	for _, c := range cols.Rows {
		key := Cell(c["schema_name"]) + "." + Cell(c["table_name"])
		byTable[key] = append(byTable[key], c)
	}

	lines := []string{
		"# Database Knowledge",
		"",
		"Generated at: " + now.UTC().Format("2006-01-02T15:04:05.000Z"),
		"",
		fmt.Sprintf("## Tables (%d)", len(tables.Rows)),
	}
	for _, t := range tables.Rows {
		lines = append(lines, fmt.Sprintf("- %s.%s", Cell(t["schema_name"]), Cell(t["table_name"])))
	}
	lines = append(lines, "")

	for _, t := range tables.Rows {
		key := Cell(t["schema_name"]) + "." + Cell(t["table_name"])
		lines = append(lines,
			"## "+key,
			"Description: (กรุณาใส่คำอธิบายตารางนี้ เช่น ใช้เก็บอะไร, ความสัมพันธ์สำคัญ)\n",
		)
		if list := byTable[key]; len(list) > 0 {
			lines = append(lines,
				fmt.Sprintf("Columns (%d)", len(list)),
				"| Column | Type | Nullable | Length |",
				"| --- | --- | --- | --- |",
			)
			for _, c := range list {
				lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s |",
					Cell(c["COLUMN_NAME"]), Cell(c["DATA_TYPE"]), Cell(c["IS_NULLABLE"]), Cell(c["CHARACTER_MAXIMUM_LENGTH"])))
			}
		} else {
			lines = append(lines, "(no columns fetched)")
		}
		lines = append(lines,
			"",
			"Example questions:",
			"- ตารางนี้มีคอลัมน์อะไรบ้าง",
			fmt.Sprintf(`- ตัวอย่างข้อมูล 10 แถวแรก (ถ้าต้องการให้แสดงข้อมูลจริง ให้ใช้โหมด DB และพิมพ์เช่น "เข้าไป %s แสดง10 ข้อมูล")`, key),
			"",
		)
	}

	abs := outPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("write knowledge file: %w", err)
	}
	return &ExportResult{OutputPath: outPath, Tables: len(tables.Rows), Columns: len(cols.Rows)}, nil
}
