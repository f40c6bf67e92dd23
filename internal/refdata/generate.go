package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"quill/internal/util"

	"github.com/pkg/errors"
)

// GenerateOptions sizes a synthetic reference dataset.
type GenerateOptions struct {
	Users  int
	Orders int
	Seed   int64
	// Now anchors generated dates; zero uses 2025-01-01 UTC so output is
	// reproducible for a given seed.
	Now time.Time
}

// GenerateStats reports rows written per table.
type GenerateStats struct {
	Tables map[string]int
}

var (
	firstNames = []string{"Alice", "Bob", "Carol", "Dave", "Erin", "Frank", "Grace", "Heidi", "Ivan", "Judy", "Mallory", "Niaj", "Olivia", "Peggy", "Rupert", "Sybil", "Trent", "Victor", "Walter"}
	lastNames  = []string{"Smith", "Jones", "Garcia", "Chen", "Khan", "Novak", "Silva", "Tanaka", "Okafor", "Muller", "Rossi", "Dubois"}
	cities     = []string{"Berlin", "Austin", "Lagos", "Osaka", "Lima", "Oslo", "Pune", "Quito", "Seoul", "Turin"}
	products   = []string{"keyboard", "monitor", "laptop", "mouse", "cable", "desk", "chair", "lamp", "router", "speaker", "webcam", "tablet"}
	statuses   = []string{"pending", "shipped", "delivered", "cancelled"}
	// statusWeights skews orders towards delivered
	statusWeights = []int{2, 3, 8, 1}
)

const generateSchema = `
CREATE TABLE users (
    id INTEGER PRIMARY KEY,
    name TEXT,
    email TEXT,
    age INTEGER,
    city TEXT,
    signup_date TEXT
);
CREATE TABLE orders (
    id INTEGER PRIMARY KEY,
    user_id INTEGER,
    product TEXT,
    amount REAL,
    status TEXT,
    order_date TEXT
);`

// Generate writes an e-commerce dataset (users, orders) to a new SQLite
// file at path. All randomness comes from a generator seeded with
// opts.Seed.
func Generate(ctx context.Context, path string, opts GenerateOptions) (GenerateStats, error) {
	if opts.Users <= 0 {
		return GenerateStats{}, errors.New("users must be positive")
	}
	if opts.Orders < 0 {
		return GenerateStats{}, errors.New("orders must not be negative")
	}
	if Available(path) {
		return GenerateStats{}, errors.Errorf("reference db %s already exists", path)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	r := rand.New(rand.NewSource(opts.Seed))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return GenerateStats{}, errors.Wrapf(err, "create reference db %s", path)
	}
	defer util.CloseWithErr(db, "generated reference db")
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, generateSchema); err != nil {
		return GenerateStats{}, errors.Wrap(err, "create reference schema")
	}

	stats := GenerateStats{Tables: map[string]int{}}
	err = insertBatch(ctx, db, "INSERT INTO users VALUES (?, ?, ?, ?, ?, ?)", opts.Users, func(i int) []any {
		first := firstNames[r.Intn(len(firstNames))]
		last := lastNames[r.Intn(len(lastNames))]
		return []any{
			int64(i + 1),
			first + " " + last,
			fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
			int64(randIntRange(r, 18, 80)),
			cities[r.Intn(len(cities))],
			randomDate(r, now, 730),
		}
	})
	if err != nil {
		return GenerateStats{}, err
	}
	stats.Tables["users"] = opts.Users

	err = insertBatch(ctx, db, "INSERT INTO orders VALUES (?, ?, ?, ?, ?, ?)", opts.Orders, func(i int) []any {
		amount := 10 + r.Float64()*990
		return []any{
			int64(i + 1),
			int64(randIntRange(r, 1, opts.Users)),
			products[r.Intn(len(products))],
			math.Round(amount*100) / 100,
			statuses[pickWeighted(r, statusWeights)],
			randomDate(r, now, 365),
		}
	})
	if err != nil {
		return GenerateStats{}, err
	}
	stats.Tables["orders"] = opts.Orders
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return GenerateStats{}, errors.Wrap(err, "analyze reference db")
	}
	return stats, nil
}

func insertBatch(ctx context.Context, db *sql.DB, query string, n int, row func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert")
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer util.CloseWithErr(stmt, "insert stmt")
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert row %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "commit insert")
}

// randIntRange returns a random int in [lo, hi].
func randIntRange(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}

// pickWeighted selects an index based on integer weights.
func pickWeighted(r *rand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return r.Intn(len(weights))
	}
	roll := r.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if roll < w {
			return i
		}
		roll -= w
	}
	return len(weights) - 1
}

// randomDate returns an ISO date within the last maxDays days of now.
func randomDate(r *rand.Rand, now time.Time, maxDays int) string {
	return now.AddDate(0, 0, -r.Intn(maxDays+1)).Format(time.DateOnly)
}
