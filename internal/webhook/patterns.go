package webhook

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nugget/linebot-mcp/internal/knowledge"
)

var (
	tableMentionPattern = regexp.MustCompile(`(?i)(?:table|จาก|เข้าไป|ไป|from)\s+([a-z0-9_.]+)`)
	pronounPattern      = regexp.MustCompile(`(?i)ตารางนี้|table\s*นี้|this\s*table`)
	countPattern        = regexp.MustCompile(`(?i)ทั้งหมดกี่รายการ|มีกี่รายการ|count\s*(?:all)?`)
	whichTablePattern   = regexp.MustCompile(`(?i)จากตารางไหน|what\s*table`)
	allTablesPattern    = regexp.MustCompile(`(?i)แสดงข้อมูล.*ตาราง.*ทั้งหมด|แสดงข้อมูลแต่ละ\s*ตาราง|ทุก\s*ตาราง`)
	showAgainPattern    = regexp.MustCompile(`แสดงมา|โชว์หน่อย|เอามา`)
	showCountPattern    = regexp.MustCompile(`(?i)แสดง(?:ข้อมูล)?\s*(\d{1,4})`)
	fromTablePattern    = regexp.MustCompile(`(?i)from\s+([a-z0-9_.]+)`)
)

// MentionedTable finds an explicit table reference such as "from orders"
// or "เข้าไป sales.orders". Unqualified names get the dbo schema.
func MentionedTable(text string) (string, bool) {
	m := tableMentionPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return knowledge.QualifyTable(m[1]), true
}

// ReplacePronouns substitutes "this table" and its Thai forms with table.
func ReplacePronouns(text, table string) string {
	return pronounPattern.ReplaceAllLiteralString(text, table)
}

// ShowCount extracts N from "แสดง N" or "แสดงข้อมูล N".
func ShowCount(text string) (int, bool) {
	m := showCountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ShowInstruction is the canonical "show n rows of table" request.
func ShowInstruction(table string, n int) string {
	return fmt.Sprintf("เข้าไป %s แสดง%d ข้อมูล", table, n)
}

// FromTable returns the first table named in a SQL FROM clause.
func FromTable(sql string) (string, bool) {
	m := fromTablePattern.FindStringSubmatch(sql)
	if m == nil {
		return "", false
	}
	return m[1], true
}
