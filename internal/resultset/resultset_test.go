package resultset

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func sampleRows() []Row {
	return []Row{
		{int64(1), "alice", 3.5},
		{int64(2), nil, 1.0},
		{int64(2), "bob", nil},
		{nil, "carol", 2.25},
		{int64(3), []byte{0x01, 0x02}, int64(7)},
	}
}

func TestRowsEqualPermutation(t *testing.T) {
	base := sampleRows()
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		perm := append([]Row(nil), base...)
		r.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		if !RowsEqual(base, perm) {
			t.Fatalf("permutation %d not equal: %v vs %v", i, base, perm)
		}
		if !RowsEqual(perm, base) {
			t.Fatalf("permutation %d not symmetric", i)
		}
	}
}

func TestRowsEqualCardinality(t *testing.T) {
	base := sampleRows()
	if RowsEqual(base, base[:len(base)-1]) {
		t.Fatalf("expected different cardinality to differ")
	}
	dup := append(append([]Row(nil), base...), base[0])
	if RowsEqual(base, dup) {
		t.Fatalf("expected duplicate row to differ")
	}
	if !RowsEqual(nil, []Row{}) {
		t.Fatalf("expected empty sets to be equal")
	}
}

func TestRowsEqualMultiset(t *testing.T) {
	a := []Row{{int64(1)}, {int64(1)}, {int64(2)}}
	b := []Row{{int64(1)}, {int64(2)}, {int64(2)}}
	if RowsEqual(a, b) {
		t.Fatalf("expected multiplicities to matter")
	}
}

func TestRowsEqualColumnOrderMatters(t *testing.T) {
	a := []Row{{int64(1), "x"}}
	b := []Row{{"x", int64(1)}}
	if RowsEqual(a, b) {
		t.Fatalf("expected column order to matter")
	}
	if RowsEqual([]Row{{int64(1)}}, []Row{{int64(1), nil}}) {
		t.Fatalf("expected different column counts to differ")
	}
}

func TestCompareValues(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want int
	}{
		{"null equals null", nil, nil, 0},
		{"null before number", nil, int64(0), -1},
		{"number before text", int64(99), "1", -1},
		{"text before blob", "zzz", []byte("a"), -1},
		{"int float equal", int64(1), 1.0, 0},
		{"int float order", int64(2), 1.5, 1},
		{"text", "a", "b", -1},
		{"blob", []byte{1}, []byte{1, 0}, -1},
		{"time as text", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02T00:00:00Z", 0},
		{"time as sqlite text", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), "2024-01-02 10:00:00", 0},
		{"time as date only", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02", 0},
		{"time before later text", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-03 00:00:00", -1},
		{"time vs plain text", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "zzz", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CompareValues(tc.a, tc.b); got != tc.want {
				t.Fatalf("CompareValues(%v, %v)=%d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := CompareValues(tc.b, tc.a); got != -tc.want {
				t.Fatalf("CompareValues(%v, %v)=%d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func TestScanFromSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("CREATE TABLE t(id INTEGER, name TEXT, score REAL, raw BLOB)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec("INSERT INTO t VALUES (1, 'a', 1.5, x'00ff'), (2, NULL, NULL, NULL)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := db.Query("SELECT id, name, score, raw FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	set, err := Scan(rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if set.Len() != 2 || len(set.Columns) != 4 {
		t.Fatalf("unexpected shape rows=%d cols=%v", set.Len(), set.Columns)
	}
	want := []Row{
		{int64(1), "a", 1.5, []byte{0x00, 0xff}},
		{int64(2), nil, nil, nil},
	}
	if !RowsEqual(set.Rows, want) {
		t.Fatalf("rows=%v, want %v", set.Rows, want)
	}
	tsv, truncated := set.TSV(1)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if tsv != "id\tname\tscore\traw\n1\ta\t1.5\tx'00ff'\n" {
		t.Fatalf("tsv=%q", tsv)
	}
}

func TestRowsEqualDecodedTimeAgainstText(t *testing.T) {
	ts := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	typed := []Row{{int64(2), ts(10)}, {int64(1), ts(9)}}
	text := []Row{{int64(1), "2024-01-01 09:00:00"}, {int64(2), "2024-01-01 10:00:00"}}
	if !RowsEqual(typed, text) || !RowsEqual(text, typed) {
		t.Fatalf("expected decoded times to equal their text form")
	}
	other := []Row{{int64(1), "2024-01-01 09:00:00"}, {int64(2), "2024-01-01 11:00:00"}}
	if RowsEqual(typed, other) {
		t.Fatalf("expected different instants to differ")
	}
	if text[0][1] != "2024-01-01 09:00:00" {
		t.Fatalf("input rows must not be modified, got %v", text[0][1])
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 500000000, time.UTC)
	for _, in := range []string{
		"2024-01-01 10:00:00.5",
		"2024-01-01T10:00:00.5",
		"2024-01-01T10:00:00.5Z",
		"2024-01-01 10:00:00.5+00:00",
	} {
		got, ok := ParseTime(in)
		if !ok || !got.Equal(want) {
			t.Fatalf("ParseTime(%q)=%v,%t, want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseTime("not a date"); ok {
		t.Fatalf("expected plain text to be rejected")
	}
}
