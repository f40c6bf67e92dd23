// Package sandbox provides disposable SQLite databases, one per evaluation.
package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quill/internal/refdata"
	"quill/internal/resultset"
	"quill/internal/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Register the SQLite driver.
)

const filePrefix = "quill-sandbox-"

// SchemaError reports a schema batch the engine rejected.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return "schema error: " + e.Err.Error()
}

// Unwrap returns the engine error.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Manager allocates sandboxes. The zero value creates files under the
// system temp directory.
type Manager struct {
	// Dir holds sandbox files. Empty means os.TempDir().
	Dir string
	// InMemory skips the filesystem entirely.
	InMemory bool
}

// Sandbox is a single isolated database. All statements go through one
// pinned connection so connection-scoped pragmas stay in effect.
type Sandbox struct {
	id     string
	path   string
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

// Create allocates a sandbox with a fresh identity.
func (m Manager) Create(ctx context.Context) (*Sandbox, error) {
	id := uuid.NewString()
	var (
		path string
		dsn  string
	)
	if m.InMemory {
		dsn = ":memory:"
	} else {
		dir := m.Dir
		if dir == "" {
			dir = os.TempDir()
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create sandbox dir %s", dir)
		}
		path = filepath.Join(dir, filePrefix+id+".db")
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sandbox")
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		util.CloseWithErr(db, "sandbox db")
		_ = util.RemoveFiles(sidecars(path)...)
		return nil, errors.Wrap(err, "connect sandbox")
	}
	return &Sandbox{id: id, path: path, db: db, conn: conn}, nil
}

// ID returns the sandbox identity.
func (s *Sandbox) ID() string {
	return s.id
}

// Path returns the database file, or "" for in-memory sandboxes.
func (s *Sandbox) Path() string {
	return s.path
}

// Conn returns the pinned connection.
func (s *Sandbox) Conn() *sql.Conn {
	return s.conn
}

// ApplySchema executes schema as one batch.
func (s *Sandbox) ApplySchema(ctx context.Context, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return &SchemaError{Err: err}
	}
	return nil
}

// Tables lists the user tables in creation order.
func (s *Sandbox) Tables(ctx context.Context) ([]string, error) {
	return refdata.ListSQLiteTables(ctx, s.conn)
}

// CopyReferenceData copies every row of each table present both in src
// and in the sandbox schema. Tables that only exist in src are skipped.
// It returns the number of rows copied per table.
func (s *Sandbox) CopyReferenceData(ctx context.Context, src refdata.Source) (map[string]int, error) {
	local, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(local))
	for _, name := range local {
		byName[strings.ToLower(name)] = name
	}
	remote, err := src.ListTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list reference tables")
	}
	copied := make(map[string]int)
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin reference copy")
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()
	for _, table := range remote {
		target, ok := byName[strings.ToLower(table)]
		if !ok {
			continue
		}
		rows, err := src.ReadAllRows(ctx, table)
		if err != nil {
			return nil, errors.Wrapf(err, "read reference table %s", table)
		}
		if err := insertRows(ctx, tx, target, rows); err != nil {
			return nil, err
		}
		copied[target] = len(rows)
	}
	err = tx.Commit()
	tx = nil
	if err != nil {
		return nil, errors.Wrap(err, "commit reference copy")
	}
	return copied, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, rows []resultset.Row) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	marks := strings.TrimSuffix(strings.Repeat("?, ", width), ", ")
	query := fmt.Sprintf("INSERT INTO %s VALUES (%s)", refdata.QuoteIdent(table), marks)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.Wrapf(err, "prepare copy into %s", table)
	}
	defer util.CloseWithErr(stmt, "copy stmt")
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return errors.Wrapf(err, "copy row %d into %s", i, table)
		}
	}
	return nil
}

// Destroy closes the sandbox and deletes its files. It is safe to call
// more than once.
func (s *Sandbox) Destroy() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		firstErr = errors.Wrap(err, "close sandbox conn")
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "close sandbox db")
	}
	if err := util.RemoveFiles(sidecars(s.path)...); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "remove sandbox files")
	}
	return firstErr
}

func sidecars(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path, path + "-journal", path + "-wal", path + "-shm"}
}
