package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"quill/internal/refdata"
	"quill/internal/util"

	"github.com/dustin/go-humanize"
)

func main() {
	out := flag.String("out", "reference.db", "path of the SQLite reference database to create")
	users := flag.Int("users", 1000, "number of users rows")
	orders := flag.Int("orders", 5000, "number of orders rows")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	start := time.Now()
	stats, err := refdata.Generate(context.Background(), *out, refdata.GenerateOptions{
		Users:  *users,
		Orders: *orders,
		Seed:   *seed,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate failed: %v\n", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(stats.Tables))
	for name := range stats.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		util.Infof("table %s rows=%s", name, humanize.Comma(int64(stats.Tables[name])))
	}
	size := ""
	if info, err := os.Stat(*out); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	util.Highlightf("reference database written to %s size=%s elapsed=%s", *out, size, time.Since(start).Round(time.Millisecond))
}
