// Package usage tracks tool calls and their estimated token cost. The
// Ledger keeps the live dashboard counters and the most recent events in
// memory; an optional SQLite Store keeps the call history behind the
// admin console's /api/usage report.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one persisted tool call.
type Record struct {
	ID           string
	Timestamp    time.Time
	Tool         string
	Model        string
	Type         string // push, broadcast or other; see CallType
	InputTokens  int
	OutputTokens int
	OK           bool
	DurationMS   int64
}

// Summary totals a set of calls.
type Summary struct {
	Calls        int   `json:"calls"`
	Failed       int   `json:"failed"`
	Pushes       int   `json:"pushes"`
	Broadcasts   int   `json:"broadcasts"`
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	AvgMS        int64 `json:"avgMs"`
}

// Report covers the calls made in [Since, Until).
type Report struct {
	Since  time.Time           `json:"since"`
	Until  time.Time           `json:"until"`
	Total  Summary             `json:"total"`
	ByTool map[string]*Summary `json:"byTool"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the usage database at path (mattn/go-sqlite3,
// WAL journal).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore uses an already open database. Tests pass the pure-Go
// modernc driver here.
func NewStore(db *sql.DB) (*Store, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id            TEXT PRIMARY KEY,
	called_at     TEXT NOT NULL,
	tool          TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	call_type     TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	ok            INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tool_calls_called_at ON tool_calls(called_at);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends rec, assigning a UUIDv7 and the current time when they
// are unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, called_at, tool, model, call_type, input_tokens, output_tokens, ok, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, stamp(rec.Timestamp), rec.Tool, rec.Model, rec.Type,
		rec.InputTokens, rec.OutputTokens, rec.OK, rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record %s call: %w", rec.Tool, err)
	}
	return nil
}

// Report aggregates the calls made in [since, until), overall and per tool.
func (s *Store) Report(ctx context.Context, since, until time.Time) (*Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool,
		        COUNT(*),
		        SUM(CASE WHEN ok THEN 0 ELSE 1 END),
		        SUM(CASE WHEN call_type = 'push' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN call_type = 'broadcast' THEN 1 ELSE 0 END),
		        SUM(input_tokens), SUM(output_tokens), SUM(duration_ms)
		 FROM tool_calls
		 WHERE called_at >= ? AND called_at < ?
		 GROUP BY tool`,
		stamp(since), stamp(until),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage report: %w", err)
	}
	defer rows.Close()

	rep := &Report{Since: since, Until: until, ByTool: map[string]*Summary{}}
	var totalMS int64
	for rows.Next() {
		var tool string
		var sum Summary
		var ms int64
		if err := rows.Scan(&tool, &sum.Calls, &sum.Failed, &sum.Pushes, &sum.Broadcasts,
			&sum.InputTokens, &sum.OutputTokens, &ms); err != nil {
			return nil, fmt.Errorf("scan usage report: %w", err)
		}
		sum.AvgMS = ms / int64(sum.Calls)
		rep.ByTool[tool] = &sum

		t := &rep.Total
		t.Calls += sum.Calls
		t.Failed += sum.Failed
		t.Pushes += sum.Pushes
		t.Broadcasts += sum.Broadcasts
		t.InputTokens += sum.InputTokens
		t.OutputTokens += sum.OutputTokens
		totalMS += ms
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if rep.Total.Calls > 0 {
		rep.Total.AvgMS = totalMS / int64(rep.Total.Calls)
	}
	return rep, nil
}

// stamp formats t so that string comparison orders by time.
func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
