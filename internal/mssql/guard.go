package mssql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// Guard errors.
var (
	ErrNotReadOnly        = errorsx.New(errorsx.ReasonQuery, "Only read-only SELECT/WITH queries are allowed")
	ErrMultipleStatements = errorsx.New(errorsx.ReasonQuery, "Multiple statements are not allowed")
	ErrDisallowedSchema   = errorsx.New(errorsx.ReasonQuery, "Query references disallowed schema")
	ErrDisallowedTable    = errorsx.New(errorsx.ReasonQuery, "Query references disallowed table")
)

// IsReadOnlySelect reports whether sql begins with SELECT or WITH,
// ignoring leading whitespace and case. It is a conservative prefix
// check, not a parser.
func IsReadOnlySelect(sql string) bool {
	s := strings.ToLower(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "select") || strings.HasPrefix(s, "with")
}

// CheckStatement is the guard applied to every statement sent to the
// server: a single read-only SELECT or WITH. SQL Server executes a
// batch, so any ";" is rejected.
func CheckStatement(sql string) error {
	if !IsReadOnlySelect(sql) {
		return ErrNotReadOnly
	}
	if strings.Contains(sql, ";") {
		return ErrMultipleStatements
	}
	return nil
}

// CheckGenerated validates model-written SQL: read-only, a single
// statement, and within the optional schema and table allow-lists.
// A non-empty allow-list passes when any entry appears in the query.
func CheckGenerated(sql string, allowedSchemas, allowedTables []string) error {
	if err := CheckStatement(sql); err != nil {
		return err
	}
	if len(allowedSchemas) > 0 && !anyMatch(sql, allowedSchemas, `(?i)\b%s\.`) {
		return ErrDisallowedSchema
	}
	if len(allowedTables) > 0 && !anyMatch(sql, allowedTables, `(?i)\b%s\b`) {
		return ErrDisallowedTable
	}
	return nil
}

func anyMatch(sql string, names []string, pattern string) bool {
	for _, n := range names {
		re, err := regexp.Compile(fmt.Sprintf(pattern, regexp.QuoteMeta(n)))
		if err != nil {
			continue
		}
		if re.MatchString(sql) {
			return true
		}
	}
	return false
}

var (
	selectPrefix = regexp.MustCompile(`(?i)^select\s+`)
	selectTop    = regexp.MustCompile(`(?i)^select\s+top\s+\d+`)
)

// InjectTop adds TOP n to a SELECT that has no TOP clause. WITH queries
// are returned unchanged.
func InjectTop(sql string, n int) string {
	if !selectPrefix.MatchString(sql) || selectTop.MatchString(sql) {
		return sql
	}
	return selectPrefix.ReplaceAllLiteralString(sql, fmt.Sprintf("SELECT TOP %d ", n))
}
