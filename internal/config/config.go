package config

import (
	"os"
	"strconv"
)

// Config is process-level configuration from the environment. Runtime
// counter behavior (buffer size, trending weight, ...) lives in the
// persisted settings record instead, so it can be changed without a
// restart.
type Config struct {
	Port                int
	DBDSN               string // empty selects the in-memory store
	AdminToken          string
	CronToken           string
	ViewRateRPS         float64
	ViewRateBurst       int
	TrendingIntervalSec int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func Load() Config {
	return Config{
		Port:                getint("PORT", 8080),
		DBDSN:               getenv("DB_DSN", "file:viewpulse.db?_foreign_keys=on"),
		AdminToken:          getenv("ADMIN_TOKEN", ""),
		CronToken:           getenv("CRON_TOKEN", ""),
		ViewRateRPS:         getfloat("VIEW_RATE_RPS", 5.0),
		ViewRateBurst:       getint("VIEW_RATE_BURST", 10),
		TrendingIntervalSec: getint("TRENDING_INTERVAL", 3600),
	}
}
