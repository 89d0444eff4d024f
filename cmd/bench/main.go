// README: Scenario runner against a live API; executes HTTP/DB/Redis checks, races and throughput probes and prints results.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, pending, skipped := 0, 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusPending:
			pending++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d PENDING=%d SKIP=%d\n", pass, fail, pending, skipped)

	if fail > 0 || (cfg.Strict && pending > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	pflag.StringVar(&cfg.BaseURL, "base-url", envString("KARIGAR_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	pflag.StringVar(&cfg.DSN, "dsn", envString("KARIGAR_DB_DSN", ""), "Postgres DSN; empty skips DB checks")
	pflag.StringVar(&cfg.RedisAddr, "redis", envString("KARIGAR_REDIS_ADDR", ""), "Redis address; empty skips Redis checks")
	pflag.BoolVar(&cfg.ApplyMigration, "apply-migration", envBool("KARIGAR_BENCH_APPLY_MIGRATION", false), "Apply the embedded schema before the scenarios")
	pflag.BoolVar(&cfg.Strict, "strict", envBool("KARIGAR_BENCH_STRICT", false), "Fail on pending cases")
	pflag.DurationVar(&cfg.Timeout, "timeout", envDuration("KARIGAR_BENCH_TIMEOUT", 90*time.Second), "Total timeout")
	pflag.IntVar(&cfg.Concurrency, "concurrency", envPositiveInt("KARIGAR_BENCH_CONCURRENCY", 20), "Concurrency for race and perf cases")
	pflag.DurationVar(&cfg.Duration, "duration", envDuration("KARIGAR_BENCH_DURATION", 10*time.Second), "Duration for perf cases")
	pflag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

// fromEnv returns the parsed value of key, or def when it is unset or does
// not parse.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func envString(key, def string) string {
	return fromEnv(key, def, func(s string) (string, error) { return s, nil })
}

func envBool(key string, def bool) bool {
	return fromEnv(key, def, strconv.ParseBool)
}

func envPositiveInt(key string, def int) int {
	return fromEnv(key, def, func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err == nil && n <= 0 {
			err = fmt.Errorf("%s must be positive", key)
		}
		return n, err
	})
}

func envDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, time.ParseDuration)
}
