// Package resultset holds materialized query results and compares them.
package resultset

import (
	"bytes"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Row is an ordered tuple of scalar values; columns are positional.
// Values are nil, int64, float64, string, []byte or time.Time.
type Row []any

// Set is a fully materialized result.
type Set struct {
	Columns []string
	Rows    []Row
}

// Len returns the row count.
func (s Set) Len() int {
	return len(s.Rows)
}

// Scan drains rows into a Set. It always consumes the whole cursor.
func Scan(rows *sql.Rows) (Set, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Set{}, errors.Wrap(err, "read columns")
	}
	out := Set{Columns: cols}
	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return Set{}, errors.Wrap(err, "scan row")
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Set{}, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, int64, float64, string, time.Time:
		return val
	case []byte:
		// the driver reuses scan buffers between rows
		return bytes.Clone(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return fmt.Sprint(val)
	}
}

// Equal reports whether a and b hold the same rows regardless of order.
// Column order matters, column names do not. NULL equals NULL.
func Equal(a, b Set) bool {
	return RowsEqual(a.Rows, b.Rows)
}

// RowsEqual is Equal over bare row slices.
func RowsEqual(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = harmonizeTimes(a, b)
	left := sortedCopy(a)
	right := sortedCopy(b)
	for i := range left {
		if CompareRows(left[i], right[i]) != 0 {
			return false
		}
	}
	return true
}

// harmonizeTimes decodes text in every column where either side holds a
// time.Time, so both sides sort the column chronologically.
func harmonizeTimes(a, b []Row) ([]Row, []Row) {
	timeCols := map[int]bool{}
	for _, rows := range [][]Row{a, b} {
		for _, row := range rows {
			for i, v := range row {
				if _, ok := v.(time.Time); ok {
					timeCols[i] = true
				}
			}
		}
	}
	if len(timeCols) == 0 {
		return a, b
	}
	return decodeTimeColumns(a, timeCols), decodeTimeColumns(b, timeCols)
}

func decodeTimeColumns(rows []Row, cols map[int]bool) []Row {
	out := make([]Row, len(rows))
	for r, row := range rows {
		copied := append(Row(nil), row...)
		for i, v := range copied {
			s, ok := v.(string)
			if !ok || !cols[i] {
				continue
			}
			if t, ok := ParseTime(s); ok {
				copied[i] = t
			}
		}
		out[r] = copied
	}
	return out
}

func sortedCopy(rows []Row) []Row {
	out := append([]Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return CompareRows(out[i], out[j]) < 0
	})
	return out
}

// CompareRows orders rows lexicographically by CompareValues; a shorter
// row sorts before a longer row with the same prefix.
func CompareRows(a, b Row) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// storage class rank, following SQLite: NULL < numeric < TEXT < BLOB.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case string, time.Time:
		return 2
	case []byte:
		return 3
	default:
		return 2
	}
}

// CompareValues imposes a total order across mixed scalar types.
// Integers and floats compare numerically, so 1 and 1.0 are equal.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch ra {
	case 0:
		return 0
	case 1:
		return compareNumeric(a, b)
	case 3:
		return bytes.Compare(a.([]byte), b.([]byte))
	default:
		if at, bt, ok := asTimes(a, b); ok {
			return at.Compare(bt)
		}
		return strings.Compare(textOf(a), textOf(b))
	}
}

// timeLayouts are the text forms the SQLite driver decodes into time.Time
// for DATE, DATETIME and TIMESTAMP columns.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTime decodes s with the layouts the SQLite driver accepts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asTimes compares as instants when at least one side is a decoded
// time.Time. The same column reads back as text once an expression such
// as MAX or COALESCE drops its declared type.
func asTimes(a, b any) (time.Time, time.Time, bool) {
	at, aTime := a.(time.Time)
	bt, bTime := b.(time.Time)
	switch {
	case aTime && bTime:
		return at, bt, true
	case aTime:
		if s, ok := b.(string); ok {
			if parsed, ok := ParseTime(s); ok {
				return at, parsed, true
			}
		}
	case bTime:
		if s, ok := a.(string); ok {
			if parsed, ok := ParseTime(s); ok {
				return parsed, bt, true
			}
		}
	}
	return time.Time{}, time.Time{}, false
}

func compareNumeric(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return cmpInt(ai, bi)
	}
	af, bf := toFloat(a), toFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	case af == bf:
		return 0
	}
	// NaN sorts first and equals itself
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af):
		return -1
	default:
		return 1
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	}
	return 0
}

func textOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format("2006-01-02 15:04:05.999999999Z07:00")
	default:
		return fmt.Sprint(val)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FormatValue renders a value for reports.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		return fmt.Sprintf("x'%x'", val)
	default:
		return textOf(val)
	}
}

// TSV renders up to maxRows rows with a header line. The boolean reports
// truncation.
func (s Set) TSV(maxRows int) (string, bool) {
	var b strings.Builder
	b.WriteString(strings.Join(s.Columns, "\t"))
	b.WriteString("\n")
	truncated := false
	for i, row := range s.Rows {
		if maxRows > 0 && i >= maxRows {
			truncated = true
			break
		}
		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = FormatValue(v)
		}
		b.WriteString(strings.Join(parts, "\t"))
		b.WriteString("\n")
	}
	return b.String(), truncated
}
