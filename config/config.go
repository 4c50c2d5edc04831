// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	RatesFile   string
	CORSOrigins []string

	Batch BatchConfig
}

// BatchConfig controls the scheduled distribution run.
type BatchConfig struct {
	Enabled  bool
	Schedule string // cron spec, descriptors like @daily accepted
	Workers  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        getenvInt("PORT", 8080),
		DBPath:      getenv("DB_PATH", "commission.db"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		RatesFile:   strings.TrimSpace(getenv("RATES_FILE", "")),
		CORSOrigins: parseList(getenv("CORS_ORIGINS", "*")),
		Batch: BatchConfig{
			Enabled:  getenvBool("BATCH_ENABLED", false),
			Schedule: getenv("BATCH_CRON", "@daily"),
			Workers:  getenvInt("BATCH_WORKERS", 1),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
