package knowledge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSampleRows is used when an instruction names a table but no count.
const DefaultSampleRows = 10

// Table inference is best-effort pattern matching over Thai and English
// phrasing such as "เข้าไป dbo.customer แสดง5 ข้อมูล" or "show 5 from orders".
var (
	tableThenCount = regexp.MustCompile(`(?:table|จาก|ไป|เข้าไป)?\s*([a-z0-9_.]+).*?(?:แสดง|show|top|\b)\s*(\d{1,4})`)
	countThenTable = regexp.MustCompile(`(?:แสดง|show)\s*(\d{1,4}).*?from\s*([a-z0-9_.]+)`)
	tableOnly      = regexp.MustCompile(`(?:เข้าไป|ไป|table)\s+([a-z0-9_.]+)`)
)

// Select is a sample query inferred from an instruction.
type Select struct {
	Table string
	Limit int
}

// SQL renders the sample query.
func (s Select) SQL() string {
	return SelectSQL(s.Table, s.Limit)
}

// SelectSQL returns SELECT TOP limit * FROM table.
func SelectSQL(table string, limit int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM %s", limit, table)
}

// QualifyTable prefixes dbo. when table has no schema.
func QualifyTable(table string) string {
	if strings.Contains(table, ".") {
		return table
	}
	return "dbo." + table
}

// InferSelect guesses a table and row count from an instruction.
func InferSelect(instruction string) (Select, bool) {
	t := strings.ToLower(instruction)

	var table string
	var limit int
	if m := tableThenCount.FindStringSubmatch(t); m != nil {
		table = m[1]
		limit, _ = strconv.Atoi(m[2])
	} else if m := countThenTable.FindStringSubmatch(t); m != nil {
		table = m[2]
		limit, _ = strconv.Atoi(m[1])
	} else if m := tableOnly.FindStringSubmatch(t); m != nil {
		table = m[1]
	}
	if table == "" {
		return Select{}, false
	}
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	return Select{Table: QualifyTable(table), Limit: limit}, true
}
