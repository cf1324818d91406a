// Package mssql runs read-only queries against Microsoft SQL Server.
//
// Every statement passes through CheckStatement before it reaches the
// driver. The connection pool is opened lazily on first use so that a
// server without database settings still starts; the configuration error
// surfaces on the first query instead.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/nugget/linebot-mcp/internal/config"
	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// ErrIncompleteConfig is returned when connection settings are missing.
var ErrIncompleteConfig = errorsx.New(errorsx.ReasonConfig,
	"MSSQL config is incomplete. Please set MSSQL_SERVER, MSSQL_DATABASE, MSSQL_USER, MSSQL_PASSWORD")

// Result is a fully materialised query result. Columns preserves the
// server's column order; each row maps column name to value.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Querier executes read-only SQL. *DB implements it; tests substitute fakes.
type Querier interface {
	Query(ctx context.Context, query string, params map[string]any) (*Result, error)
}

// DB is a lazily opened SQL Server pool.
type DB struct {
	cfg    config.MSSQLConfig
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// New returns a DB for cfg. No connection is made until the first query.
func New(cfg config.MSSQLConfig, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{cfg: cfg, logger: logger.With("component", "mssql")}
}

// DSN builds the sqlserver:// connection string for cfg.
func DSN(cfg config.MSSQLConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("encrypt", strconv.FormatBool(cfg.Encrypt))
	q.Set("TrustServerCertificate", strconv.FormatBool(cfg.TrustServerCert))
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (d *DB) pool() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return d.db, nil
	}
	if !d.cfg.Configured() {
		return nil, ErrIncompleteConfig
	}
	db, err := sql.Open("sqlserver", DSN(d.cfg))
	if err != nil {
		return nil, fmt.Errorf("open mssql: %w", err)
	}
	db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	db.SetMaxIdleConns(d.cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(30 * time.Second)
	d.db = db
	d.logger.Info("mssql pool opened", "server", d.cfg.Server, "database", d.cfg.Database, "max_conns", d.cfg.MaxOpenConns)
	return db, nil
}

// Ping verifies the server is reachable.
func (d *DB) Ping(ctx context.Context) error {
	db, err := d.pool()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the pool, if one was opened.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Query runs a read-only statement with @name parameters.
func (d *DB) Query(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if err := CheckStatement(query); err != nil {
		return nil, err
	}
	db, err := d.pool()
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, normalizeParam(v)))
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonQuery)
	}
	defer rows.Close()

	res, err := scanRows(rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonQuery)
	}
	d.logger.Debug("query complete", "rows", len(res.Rows), "elapsed", time.Since(start))
	return res, nil
}

// normalizeParam narrows JSON-decoded numbers to integers when they are
// whole, so @id = 5 binds as an int rather than a float.
func normalizeParam(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
	case int:
		return int64(n)
	}
	return v
}

func scanRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = convertValue(vals[i], types[i].DatabaseTypeName())
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// convertValue turns driver byte slices into printable values. DECIMAL
// and MONEY arrive as text bytes; UNIQUEIDENTIFIER as 16 raw bytes.
func convertValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if dbType == "UNIQUEIDENTIFIER" && len(b) == 16 {
		var id mssqldb.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	return string(b)
}
