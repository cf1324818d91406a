// Package opstate persists per-user conversation state for the LINE
// webhook: which knowledge source a user has selected and the table and
// row count the conversation last referred to. It is lightweight data
// that should survive restarts, not structured domain data.
package opstate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Knowledge sources a user can select.
const (
	SourceFile  = "file"
	SourceMSSQL = "mssql"
)

// Preference is one user's conversation state.
type Preference struct {
	KnowledgeSource string
	LastTable       string
	LastLimit       int
	LastRowCount    int
}

// DefaultPreference is returned for users with no stored state.
func DefaultPreference() Preference {
	return Preference{KnowledgeSource: SourceFile}
}

// Store is a SQLite-backed preference store. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates a preference store at dbPath using the sqlite3 driver.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id          TEXT PRIMARY KEY,
		knowledge_source TEXT NOT NULL,
		last_table       TEXT NOT NULL DEFAULT '',
		last_limit       INTEGER NOT NULL DEFAULT 0,
		last_row_count   INTEGER NOT NULL DEFAULT 0,
		updated_at       TEXT NOT NULL
	)`)
	return err
}

// Get returns the stored preference for userID, or DefaultPreference
// when none exists.
func (s *Store) Get(ctx context.Context, userID string) (Preference, error) {
	var p Preference
	err := s.db.QueryRowContext(ctx,
		`SELECT knowledge_source, last_table, last_limit, last_row_count
		 FROM user_preferences WHERE user_id = ?`,
		userID,
	).Scan(&p.KnowledgeSource, &p.LastTable, &p.LastLimit, &p.LastRowCount)
	if err == sql.ErrNoRows {
		return DefaultPreference(), nil
	}
	if err != nil {
		return DefaultPreference(), fmt.Errorf("get preference %s: %w", userID, err)
	}
	return p, nil
}

// Set replaces the whole preference for userID.
func (s *Store) Set(ctx context.Context, userID string, p Preference) error {
	if p.KnowledgeSource == "" {
		p.KnowledgeSource = SourceFile
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences
		   (user_id, knowledge_source, last_table, last_limit, last_row_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   knowledge_source = excluded.knowledge_source,
		   last_table = excluded.last_table,
		   last_limit = excluded.last_limit,
		   last_row_count = excluded.last_row_count,
		   updated_at = excluded.updated_at`,
		userID, p.KnowledgeSource, p.LastTable, p.LastLimit, p.LastRowCount,
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", userID, err)
	}
	return nil
}

// Count returns how many users have stored state.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_preferences`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count preferences: %w", err)
	}
	return n, nil
}

// Memory is an in-process preference store. State is lost on restart.
type Memory struct {
	mu    sync.Mutex
	prefs map[string]Preference
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{prefs: make(map[string]Preference)}
}

// Get returns the preference for userID, or DefaultPreference.
func (m *Memory) Get(_ context.Context, userID string) (Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return DefaultPreference(), nil
}

// Set replaces the whole preference for userID.
func (m *Memory) Set(_ context.Context, userID string, p Preference) error {
	if p.KnowledgeSource == "" {
		p.KnowledgeSource = SourceFile
	}
	m.mu.Lock()
	m.prefs[userID] = p
	m.mu.Unlock()
	return nil
}

// Count returns how many users have stored state.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prefs), nil
}
