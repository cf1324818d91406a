package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/knowledge"
	"github.com/nugget/linebot-mcp/internal/mssql"
	"github.com/nugget/linebot-mcp/internal/planner"
	"github.com/nugget/linebot-mcp/internal/prompts"
)

// SQLModel is the model ai_query_mssql asks for SQL. It is called
// without fallback.
const SQLModel = "gemini-2.0-flash"

// TablesQuery lists up to 50 user tables as schema_name, table_name.
const TablesQuery = "SELECT TOP 50 s.name AS schema_name, t.name AS table_name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE t.is_ms_shipped = 0 ORDER BY s.name, t.name"

type queryArgs struct {
	SQL      string         `mapstructure:"sql"`
	Params   map[string]any `mapstructure:"params"`
	Limit    int            `mapstructure:"limit"`
	MaxChars int            `mapstructure:"maxChars"`
}

// QueryResult is returned by query_mssql. Truncated is set when rows
// were dropped to fit maxChars.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	RowCount  int              `json:"rowCount"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}

type exportArgs struct {
	OutputPath  string `mapstructure:"outputPath"`
	TableLimit  int    `mapstructure:"tableLimit"`
	ColumnLimit int    `mapstructure:"columnLimit"`
}

type aiQueryArgs struct {
	Instruction    string   `mapstructure:"instruction"`
	MaxRows        int      `mapstructure:"maxRows"`
	AllowedSchemas []string `mapstructure:"allowedSchemas"`
	AllowedTables  []string `mapstructure:"allowedTables"`
}

// AIQueryResult is returned by ai_query_mssql.
type AIQueryResult struct {
	SQL      string           `json:"sql"`
	Params   map[string]any   `json:"params"`
	Columns  []string         `json:"columns"`
	RowCount int              `json:"rowCount"`
	Rows     []map[string]any `json:"rows"`
}

type sqlPlan struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params"`
	Limit  int            `json:"limit"`
}

func registerMSSQLTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name:        "query_mssql",
		Description: "Run a read-only MSSQL query (SELECT/WITH). Returns columns, rowCount, and sliced rows for preview.",
		Parameters: schema([]string{"sql"}, map[string]any{
			"sql":      map[string]any{"type": "string", "minLength": 1, "description": "Read-only SQL beginning with SELECT or WITH. Parameters as @name."},
			"params":   map[string]any{"type": "object", "description": "Key-value parameters for @name placeholders in SQL."},
			"limit":    integer("Maximum rows to return (client-side slice).", 1, 500, 100),
			"maxChars": integer("Max characters in serialized preview.", 1000, 200000, 12000),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a queryArgs
			if err := decode("query_mssql", args, &a); err != nil {
				return nil, err
			}
			if err := required("query_mssql", "sql", a.SQL); err != nil {
				return nil, err
			}
			if err := intArg("query_mssql", args, "limit", &a.Limit, 100, 1, 500); err != nil {
				return nil, err
			}
			if err := intArg("query_mssql", args, "maxChars", &a.MaxChars, 12000, 1000, 200000); err != nil {
				return nil, err
			}
			db, err := d.db()
			if err != nil {
				return nil, fmt.Errorf("MSSQL query failed: %w", err)
			}
			res, err := db.Query(ctx, a.SQL, a.Params)
			if err != nil {
				return nil, fmt.Errorf("MSSQL query failed: %w", err)
			}
			return FitRows(res, a.Limit, a.MaxChars), nil
		},
	})

	r.Register(&Tool{
		Name:        "export_mssql_knowledge",
		Description: "Export MSSQL schema (tables/columns) into a Markdown knowledge file for Q/A.",
		Parameters: schema(nil, map[string]any{
			"outputPath":  map[string]any{"type": "string", "default": "docs/db-knowledge.md", "description": "Output markdown path relative to the project root."},
			"tableLimit":  integer("Maximum tables to include.", 1, 500, 200),
			"columnLimit": integer("Maximum columns to include.", 100, 5000, 2000),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a exportArgs
			if err := decode("export_mssql_knowledge", args, &a); err != nil {
				return nil, err
			}
			if a.OutputPath == "" {
				a.OutputPath = "docs/db-knowledge.md"
			}
			if err := intArg("export_mssql_knowledge", args, "tableLimit", &a.TableLimit, 200, 1, 500); err != nil {
				return nil, err
			}
			if err := intArg("export_mssql_knowledge", args, "columnLimit", &a.ColumnLimit, 2000, 100, 5000); err != nil {
				return nil, err
			}
			db, err := d.db()
			if err != nil {
				return nil, fmt.Errorf("Failed to export MSSQL knowledge: %w", err)
			}
			res, err := knowledge.Export(ctx, db, d.Root, a.OutputPath, a.TableLimit, a.ColumnLimit, d.now())
			if err != nil {
				return nil, fmt.Errorf("Failed to export MSSQL knowledge: %w", err)
			}
			return res, nil
		},
	})

	r.Register(&Tool{
		Name:        "ai_query_mssql",
		Description: "Generate a safe read-only MSSQL SELECT from instruction via Gemini, validate, execute, and return rows.",
		Parameters: schema([]string{"instruction"}, map[string]any{
			"instruction":    map[string]any{"type": "string", "minLength": 1, "description": "What data you want, in natural language."},
			"maxRows":        integer("Maximum rows to return.", 1, 200, 10),
			"allowedSchemas": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Only these schemas may be referenced."},
			"allowedTables":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Only these tables may be referenced."},
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a aiQueryArgs
			if err := decode("ai_query_mssql", args, &a); err != nil {
				return nil, err
			}
			if err := required("ai_query_mssql", "instruction", a.Instruction); err != nil {
				return nil, err
			}
			if err := intArg("ai_query_mssql", args, "maxRows", &a.MaxRows, 10, 1, 200); err != nil {
				return nil, err
			}
			res, err := d.aiQuery(ctx, a)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	})
}

// FitRows slices res to limit rows, then drops trailing rows until the
// JSON form fits in maxChars.
func FitRows(res *mssql.Result, limit, maxChars int) QueryResult {
	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := QueryResult{Columns: res.Columns, RowCount: len(res.Rows), Rows: rows}
	if out.Rows == nil {
		out.Rows = []map[string]any{}
	}
	for len(out.Rows) > 0 {
		raw, err := json.Marshal(out)
		if err != nil || len(raw) <= maxChars {
			break
		}
		out.Rows = out.Rows[:len(out.Rows)-1]
		out.Truncated = true
	}
	return out
}

// SchemaSnippet lists up to 50 user tables for the SQL prompt. Lookup
// failures yield "".
func SchemaSnippet(ctx context.Context, q mssql.Querier) string {
	res, err := q.Query(ctx, TablesQuery, nil)
	if err != nil {
		return ""
	}
	lines := make([]string, 0, len(res.Rows)+1)
	lines = append(lines, "Tables (top 50)")
	for _, row := range res.Rows {
		lines = append(lines, "- "+knowledge.Cell(row["schema_name"])+"."+knowledge.Cell(row["table_name"]))
	}
	return strings.Join(lines, "\n")
}

func (d *Deps) aiQuery(ctx context.Context, a aiQueryArgs) (*AIQueryResult, error) {
	if !d.Gemini.Configured() {
		return nil, errorsx.New(errorsx.ReasonConfig, "Please set GEMINI_API_KEY (or GOOGLE_API_KEY)")
	}
	db, err := d.db()
	if err != nil {
		return nil, fmt.Errorf("ai_query_mssql failed: %w", err)
	}

	prompt := prompts.SQL(prompts.SQLInput{
		Instruction:    a.Instruction,
		MaxRows:        a.MaxRows,
		AllowedSchemas: a.AllowedSchemas,
		AllowedTables:  a.AllowedTables,
		SchemaSnippet:  SchemaSnippet(ctx, db),
	})
	gen, err := d.Gemini.GenerateOnce(ctx, SQLModel, "v1", prompt)
	if err != nil {
		return nil, fmt.Errorf("ai_query_mssql failed: %w", err)
	}
	if gen.Text == "" {
		return nil, errorsx.New(errorsx.ReasonGeneration, "ai_query_mssql failed: Empty response from model")
	}

	var plan sqlPlan
	if err := json.Unmarshal([]byte(planner.ExtractJSONText(gen.Text)), &plan); err != nil {
		return nil, errorsx.New(errorsx.ReasonPlanExtraction, "Failed to parse SQL plan JSON: "+err.Error())
	}
	sql := strings.TrimSpace(plan.SQL)
	if sql == "" {
		return nil, errorsx.New(errorsx.ReasonPlanExtraction, "Model did not provide sql")
	}
	if err := mssql.CheckGenerated(sql, a.AllowedSchemas, a.AllowedTables); err != nil {
		return nil, err
	}
	sql = mssql.InjectTop(sql, a.MaxRows)
	d.logger().Debug("ai_query_mssql generated", "sql", sql)

	params := plan.Params
	if params == nil {
		params = map[string]any{}
	}
	res, err := db.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("ai_query_mssql failed: %w", err)
	}
	rows := res.Rows
	if len(rows) > a.MaxRows {
		rows = rows[:a.MaxRows]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &AIQueryResult{SQL: sql, Params: params, Columns: res.Columns, RowCount: len(res.Rows), Rows: rows}, nil
}
