package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	driver string
	schema string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var postgresDialect = dialect{
	driver:   "postgres",
	numbered: true,
	schema: `
CREATE TABLE IF NOT EXISTS executions (
    id           TEXT PRIMARY KEY,
    pipeline     TEXT NOT NULL,
    code_sha256  TEXT NOT NULL,
    code_size    INTEGER NOT NULL,
    rejected     BOOLEAN NOT NULL DEFAULT FALSE,
    reject_rule  TEXT NOT NULL DEFAULT '',
    failed       BOOLEAN NOT NULL DEFAULT FALSE,
    error        TEXT NOT NULL DEFAULT '',
    stdout_bytes INTEGER NOT NULL DEFAULT 0,
    has_html     BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms  BIGINT NOT NULL DEFAULT 0,
    remote_addr  TEXT NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline, created_at DESC);
`,
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS executions (
    id           TEXT PRIMARY KEY,
    pipeline     TEXT NOT NULL,
    code_sha256  TEXT NOT NULL,
    code_size    INTEGER NOT NULL,
    rejected     INTEGER NOT NULL DEFAULT 0,
    reject_rule  TEXT NOT NULL DEFAULT '',
    failed       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    stdout_bytes INTEGER NOT NULL DEFAULT 0,
    has_html     INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    remote_addr  TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline, created_at DESC);
`,
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps execution records in a SQL database.
// Timestamps are stored as Unix microseconds so both backends sort alike.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenPostgres connects to PostgreSQL and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}

// OpenSQLite creates or opens a SQLite database at path and creates the
// schema. Use ":memory:" for an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "codegate-audit.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// Record inserts e.
func (s *SQLStore) Record(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO executions (id, pipeline, code_sha256, code_size, rejected, reject_rule,
			failed, error, stdout_bytes, has_html, duration_ms, remote_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Pipeline, e.CodeSHA256, e.CodeSize, e.Rejected, e.RejectRule,
		e.Failed, e.Error, e.StdoutBytes, e.HasHTML, e.DurationMS, e.RemoteAddr,
		e.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// List returns matching records newest first.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]Execution, error) {
	query := `SELECT id, pipeline, code_sha256, code_size, rejected, reject_rule, failed,
		error, stdout_bytes, has_html, duration_ms, remote_addr, created_at FROM executions`
	var args []any

	if f.Pipeline != "" {
		query += " WHERE pipeline = ?"
		args = append(args, f.Pipeline)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var created int64
		if err := rows.Scan(&e.ID, &e.Pipeline, &e.CodeSHA256, &e.CodeSize, &e.Rejected,
			&e.RejectRule, &e.Failed, &e.Error, &e.StdoutBytes, &e.HasHTML, &e.DurationMS,
			&e.RemoteAddr, &created); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		e.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}
