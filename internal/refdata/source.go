// Package refdata reads reference datasets that seed evaluation sandboxes.
package refdata

import (
	"context"
	"os"
	"strings"

	"quill/internal/resultset"

	"github.com/pkg/errors"
)

const mysqlScheme = "mysql://"

// Source is a read-only relational dataset.
type Source interface {
	// ListTables returns the names of all base tables.
	ListTables(ctx context.Context) ([]string, error)
	// ReadAllRows returns every row of table with positional columns, in
	// storage order.
	ReadAllRows(ctx context.Context, table string) ([]resultset.Row, error)
	Close() error
}

// Available reports whether location names a dataset worth opening.
// SQLite paths must exist; MySQL DSNs are assumed reachable.
func Available(location string) bool {
	location = strings.TrimSpace(location)
	if location == "" {
		return false
	}
	if IsMySQL(location) {
		return true
	}
	info, err := os.Stat(location)
	return err == nil && !info.IsDir()
}

// IsMySQL reports whether location is a mysql:// DSN.
func IsMySQL(location string) bool {
	return strings.HasPrefix(strings.TrimSpace(location), mysqlScheme)
}

// Open opens the dataset at location: a mysql:// DSN or a SQLite file path.
func Open(ctx context.Context, location string) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("reference dataset location is empty")
	}
	if IsMySQL(location) {
		return OpenMySQL(ctx, strings.TrimPrefix(location, mysqlScheme))
	}
	return OpenSQLite(ctx, location)
}

// QuoteIdent quotes an identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
