package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	AppEnv      string

	// Rate-limit admission control for the write path. Config defaults,
	// not runtime-tunable via the API.
	RateLimitWindow time.Duration
	RateLimitVisit  int
	RateLimitBulk   int
}

func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:data/visits.db"),
		AppEnv:          getEnv("APP_ENV", "local"),
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		RateLimitVisit:  getEnvInt("RATE_LIMIT_VISIT", 10),
		RateLimitBulk:   getEnvInt("RATE_LIMIT_BULK", 20),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
