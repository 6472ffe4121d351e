// README: Race checker; runs concurrent-accept scenarios against a running API and prints PASS/FAIL per case.
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
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "racecheck needs -jwt-secret (the API must run with auth.mode=jwt)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner := NewRunner(cfg)
	results := runner.RunAll(ctx)

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
	JWTSecret   string
	Strict      bool
	Timeout     time.Duration
	Concurrency int
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("RIDEMATCH_RACECHECK_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", envOrDefault("RIDEMATCH_DB_DSN", ""), "Postgres DSN for persistence checks (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("RIDEMATCH_REDIS_ADDR", ""), "Redis address for dispatch record checks (optional)")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", envOrDefault("RIDEMATCH_AUTH_JWT_SECRET", ""), "HS256 secret shared with the API")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("RIDEMATCH_RACECHECK_STRICT", false), "Fail on skipped checks")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("RIDEMATCH_RACECHECK_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("RIDEMATCH_RACECHECK_CONCURRENCY", 20), "Concurrent drivers per race")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency < 2 {
		cfg.Concurrency = 2
	}
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
