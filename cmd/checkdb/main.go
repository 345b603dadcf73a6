// Command checkdb performs health checks against the weather database: table
// row counts, covered time ranges, and ingest freshness. Intended for manual
// diagnosis and monitoring scripts.
//
// Exit code 0 when every check passes, 1 otherwise, 2 on configuration error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/observability"
	"github.com/meteolab/station-ingest/internal/pipeline"
	"github.com/meteolab/station-ingest/internal/store"
)

var tables = []string{"station_raw", "station_3h", "forecast_ow"}

// check tracks pass/fail for one health check.
type check struct {
	name   string
	errors []string
}

func (c *check) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *check) passed() bool { return len(c.errors) == 0 }

func main() {
	os.Exit(run())
}

func run() int {
	maxAge := flag.Duration("max-age", time.Hour, "oldest acceptable last_ingest before the database counts as stale")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}

	logger := observability.NewLogger(cfg)
	st, err := store.Open(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checks := []*check{
		checkConnectivity(ctx, st),
		checkTables(ctx, st),
		checkFreshness(ctx, st, *maxAge),
	}

	failed := 0
	for _, c := range checks {
		if c.passed() {
			fmt.Printf("PASS  %s\n", c.name)
			continue
		}
		failed++
		fmt.Printf("FAIL  %s\n", c.name)
		for _, e := range c.errors {
			fmt.Printf("      %s\n", e)
		}
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d checks failed\n", failed, len(checks))
		return 1
	}
	fmt.Printf("\nall %d checks passed\n", len(checks))
	return 0
}

func checkConnectivity(ctx context.Context, st *store.Store) *check {
	c := &check{name: "database connectivity"}
	if err := st.Ping(ctx); err != nil {
		c.errorf("ping: %v", err)
	}
	return c
}

func checkTables(ctx context.Context, st *store.Store) *check {
	c := &check{name: "table contents"}
	for _, table := range tables {
		n, err := st.Count(ctx, table)
		if err != nil {
			c.errorf("%s: %v", table, err)
			continue
		}
		oldest, newest, ok, err := st.TimeRange(ctx, table)
		if err != nil {
			c.errorf("%s: time range: %v", table, err)
			continue
		}
		if !ok {
			fmt.Printf("      %-12s empty\n", table)
			continue
		}
		fmt.Printf("      %-12s %6d rows  %s .. %s\n",
			table, n, oldest.Format(time.RFC3339), newest.Format(time.RFC3339))
	}
	return c
}

func checkFreshness(ctx context.Context, st *store.Store, maxAge time.Duration) *check {
	c := &check{name: "ingest freshness"}

	raw, ok, err := st.GetMeta(ctx, pipeline.LastIngestKey)
	if err != nil {
		c.errorf("read %s: %v", pipeline.LastIngestKey, err)
		return c
	}
	if !ok {
		c.errorf("no successful ingest recorded yet")
		return c
	}

	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.errorf("unparseable %s value %q", pipeline.LastIngestKey, raw)
		return c
	}

	age := time.Since(last)
	fmt.Printf("      last_ingest %s (%s ago)\n", raw, age.Round(time.Second))
	if age > maxAge {
		c.errorf("last ingest is older than %s", maxAge)
	}
	return c
}
