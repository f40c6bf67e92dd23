package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"quill/internal/resultset"
	"quill/internal/util"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQLSource reads a MySQL-compatible database inside read-only transactions.
type MySQLSource struct {
	dbName string
	db     *sql.DB
}

// OpenMySQL opens a go-sql-driver DSN such as user:pass@tcp(host:3306)/db.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLSource, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	if parsed.DBName == "" {
		return nil, errors.New("mysql reference dsn must name a database")
	}
	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql reference")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		util.CloseWithErr(db, "mysql reference")
		return nil, errors.Wrapf(err, "ping mysql reference %s", parsed.Addr)
	}
	return &MySQLSource{dbName: parsed.DBName, db: db}, nil
}

// ListTables implements Source.
func (s *MySQLSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'")
	if err != nil {
		return nil, errors.Wrap(err, "list mysql tables")
	}
	defer util.CloseWithErr(rows, "mysql tables")
	var names []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, errors.Wrap(err, "list mysql tables")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReadAllRows implements Source. Values are converted to SQLite storage
// classes using the declared MySQL column types.
func (s *MySQLSource) ReadAllRows(ctx context.Context, table string) (out []resultset.Row, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "begin read-only transaction")
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
			err = rbErr
		}
	}()
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", strings.ReplaceAll(table, "`", "``")))
	if err != nil {
		return nil, errors.Wrapf(err, "read mysql table %s", table)
	}
	defer util.CloseWithErr(rows, "mysql rows")
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrapf(err, "column types %s", table)
	}
	values := make([]any, len(types))
	scanArgs := make([]any, len(types))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errors.Wrapf(err, "scan mysql table %s", table)
		}
		row := make(resultset.Row, len(values))
		for i, v := range values {
			row[i] = convertMySQLValue(types[i].DatabaseTypeName(), v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Source.
func (s *MySQLSource) Close() error {
	return s.db.Close()
}

func convertMySQLValue(typeName string, v any) any {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	case int64, float64:
		return val
	case int32:
		return int64(val)
	case uint64:
		if val > 1<<63-1 {
			return float64(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	default:
		return fmt.Sprint(val)
	}
	text := string(raw)
	switch strings.ToUpper(typeName) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR",
		"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
		return text
	case "FLOAT", "DOUBLE", "DECIMAL":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
		return text
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT", "GEOMETRY":
		return append([]byte(nil), raw...)
	default:
		return text
	}
}
