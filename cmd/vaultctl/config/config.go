package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds vaultctl's environment-derived settings.
type Config struct {
	CacheDir   string
	DataDir    string
	ExpiryDays int
	LogLevel   string
}

// Expiry returns ExpiryDays as a time.Duration, for direct use by
// vault.NewVault.
func (c *Config) Expiry() time.Duration {
	return time.Duration(c.ExpiryDays) * 24 * time.Hour
}

// Load loads configuration from environment variables.
// Automatically loads a .env file if present.
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	return &Config{
		CacheDir:   getEnv("CACHE_DIR", "/var/cache/vaultctl"),
		DataDir:    getEnv("DATA_DIR", "/var/lib/vaultctl"),
		ExpiryDays: getEnvInt("EXPIRY_DAYS", 14),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
