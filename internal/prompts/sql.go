package prompts

import (
	"fmt"
	"strings"
)

// SQLInput carries the dynamic parts of the SQL generation prompt.
type SQLInput struct {
	Instruction    string
	MaxRows        int
	AllowedSchemas []string
	AllowedTables  []string
	// SchemaSnippet lists known tables to steer the model.
	SchemaSnippet string
}

// SQL returns the prompt that turns an instruction into one read-only
// SQL Server query, answered as {"sql","params","limit"} JSON.
func SQL(in SQLInput) string {
	var b strings.Builder
	b.WriteString("You are a SQL assistant for Microsoft SQL Server.\n")
	b.WriteString("Task: Convert the user's instruction into ONE safe SELECT/WITH query.\n")
	b.WriteString("Rules:\n")
	b.WriteString(`- OUTPUT STRICT JSON only: {"sql":"...","params":{},"limit":N}. No markdown, no explanation.` + "\n")
	b.WriteString("- Only SELECT or WITH; single statement; NO DML/DDL (INSERT/UPDATE/DELETE/ALTER/DROP).\n")
	b.WriteString("- Use fully qualified table names if possible (e.g., dbo.table).\n")
	b.WriteString("- If schemas/tables are provided as allowlists, only use those.\n")
	fmt.Fprintf(&b, "- Limit rows to %d (or fewer) using TOP for MSSQL if not specified.\n", in.MaxRows)
	if len(in.AllowedSchemas) > 0 {
		b.WriteString("Allowed schemas: " + strings.Join(in.AllowedSchemas, ", ") + "\n")
	}
	if len(in.AllowedTables) > 0 {
		b.WriteString("Allowed tables: " + strings.Join(in.AllowedTables, ", ") + "\n")
	}
	if in.SchemaSnippet != "" {
		b.WriteString("\nSchema snippet:\n" + in.SchemaSnippet + "\n")
	}
	b.WriteString("\nInstruction: " + in.Instruction)
	return b.String()
}
