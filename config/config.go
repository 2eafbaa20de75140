package config

import (
	"os"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	ListenAddr    string
	MetricsAddr   string
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string

	// Symbol allow-list (comma-separated, e.g. "BTC/USDT,ETH/USDT")
	Symbols string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		PostgresDSN:   getEnv("PG_DSN", "postgres://localhost:5432/marketdata"),

		Symbols: getEnv("SYMBOLS", "BTC/USDT"),
	}
}

// ParseSymbols parses the Symbols string into the symbol allow-list.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
