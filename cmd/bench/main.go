// README: Bench runner for the tracking API; executes HTTP, Redis and Postgres checks plus load runs and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL     string
	DSN         string
	RedisAddr   string
	Strict      bool
	Timeout     time.Duration
	Concurrency int
	Duration    time.Duration
	Drivers     int
	CenterLat   float64
	CenterLng   float64
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("TRACKING_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("TRACKING_DB_DSN"), "Postgres DSN of the alert archive (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("TRACKING_REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("TRACKING_BENCH_STRICT", false), "Fail on skipped checks")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("TRACKING_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("TRACKING_BENCH_CONCURRENCY", 20), "Concurrency for load runs")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("TRACKING_BENCH_DURATION", 10*time.Second), "Duration of each load run")
	flag.IntVar(&cfg.Drivers, "drivers", envOrDefaultInt("TRACKING_BENCH_DRIVERS", 200), "Simulated drivers")
	flag.Float64Var(&cfg.CenterLat, "lat", 24.8607, "Center latitude of the simulated fleet")
	flag.Float64Var(&cfg.CenterLng, "lng", 67.0011, "Center longitude of the simulated fleet")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
