package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"quill/internal/resultset"
	"quill/internal/util"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Register the SQLite driver.
)

// SQLiteSource reads a SQLite database file opened read-only.
type SQLiteSource struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens path read-only and verifies it is reachable.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve reference path %s", path)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", filepath.ToSlash(abs))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open reference db %s", path)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		util.CloseWithErr(db, "reference db")
		return nil, errors.Wrapf(err, "ping reference db %s", path)
	}
	return &SQLiteSource{path: abs, db: db}, nil
}

// Path returns the absolute database path.
func (s *SQLiteSource) Path() string {
	return s.path
}

// ListTables implements Source.
func (s *SQLiteSource) ListTables(ctx context.Context) ([]string, error) {
	return listSQLiteTables(ctx, s.db)
}

// ReadAllRows implements Source. Columns are selected through a unary '+'
// so the driver sees no declared type and returns each value in its
// storage class instead of converting DATE-like text to time.Time.
func (s *SQLiteSource) ReadAllRows(ctx context.Context, table string) ([]resultset.Row, error) {
	cols, err := sqliteColumns(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Errorf("table %s has no columns", table)
	}
	exprs := make([]string, len(cols))
	for i, col := range cols {
		exprs[i] = "+" + QuoteIdent(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), QuoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", table)
	}
	defer util.CloseWithErr(rows, "reference rows")
	set, err := resultset.Scan(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", table)
	}
	return set.Rows, nil
}

// Close implements Source.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// ListSQLiteTables lists user tables through any SQLite session.
func ListSQLiteTables(ctx context.Context, q Querier) ([]string, error) {
	return listSQLiteTables(ctx, q)
}

// Querier runs read queries; *sql.DB and *sql.Conn satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listSQLiteTables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer util.CloseWithErr(rows, "table list")
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "list tables")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func sqliteColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "table info %s", table)
	}
	defer util.CloseWithErr(rows, "table info")
	set, err := resultset.Scan(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "table info %s", table)
	}
	// table_info columns: cid, name, type, notnull, dflt_value, pk
	cols := make([]string, 0, len(set.Rows))
	for _, row := range set.Rows {
		if len(row) < 2 {
			continue
		}
		if name, ok := row[1].(string); ok {
			cols = append(cols, name)
		}
	}
	return cols, nil
}
