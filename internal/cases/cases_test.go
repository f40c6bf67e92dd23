package cases

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadJSONWithAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	data := `[
  {
    "id": 1,
    "description": "Missing index on WHERE clause",
    "schema": "CREATE TABLE users (id INTEGER PRIMARY KEY, age INTEGER);",
    "slow_query": "SELECT * FROM users WHERE age > 30;",
    "fast_query": "CREATE INDEX IF NOT EXISTS idx_users_age ON users(age);\nSELECT * FROM users WHERE age > 30;",
    "explanation": "Added index on age column",
    "optimization_type": "indexing"
  },
  {
    "schema": "CREATE TABLE t(x INTEGER)",
    "original_query": "SELECT x FROM t",
    "optimized_query": "SELECT x FROM t"
  }
]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "SELECT * FROM users WHERE age > 30;", got[0].OriginalQuery)
	require.Contains(t, got[0].OptimizedQuery, "CREATE INDEX")
	require.Equal(t, "indexing", got[0].OptimizationType)
	require.Equal(t, "case-002", got[1].ID)
}

func TestParseYAML(t *testing.T) {
	data := `
- id: join-rewrite
  schema: |
    CREATE TABLE a(id INTEGER);
    CREATE TABLE b(a_id INTEGER);
  original_query: SELECT * FROM a WHERE id IN (SELECT a_id FROM b)
  optimized_query: SELECT DISTINCT a.* FROM a JOIN b ON b.a_id = a.id
`
	got, err := Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "join-rewrite", got[0].ID)
	require.Contains(t, got[0].Schema, "CREATE TABLE b")
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not a list", `{"schema": "x"}`},
		{"missing schema", `[{"original_query": "SELECT 1", "optimized_query": "SELECT 1"}]`},
		{"missing original", `[{"schema": "CREATE TABLE t(x)", "optimized_query": "SELECT 1"}]`},
		{"blank optimized", `[{"schema": "CREATE TABLE t(x)", "original_query": "SELECT 1", "optimized_query": "  "}]`},
		{"duplicate ids", `[{"id": "a", "schema": "s", "original_query": "q", "optimized_query": "q"}, {"id": "a", "schema": "s", "original_query": "q", "optimized_query": "q"}]`},
		{"bad syntax", `[{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data))
			require.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse([]byte(""))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
