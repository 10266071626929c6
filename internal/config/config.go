package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and treated as read-only afterwards.
// All pipeline stages receive it by reference.
type Config struct {
	Port            string
	MaxWidth        int
	MaxHeight       int
	DefaultQuality  int
	DefaultFormat   string
	FetchTimeout    time.Duration
	MaxFileSize     int64
	AllowedDomains  []string
	BlockedDomains  []string
	Engine          string
	AllowPrivateNet bool
	DevMode         bool
	AllowedOrigins  []string
}

func Load() *Config {
	godotenv.Load(".env")

	return &Config{
		Port:            getEnv("PORT", "8080"),
		MaxWidth:        getEnvInt("MAX_WIDTH", 4096),
		MaxHeight:       getEnvInt("MAX_HEIGHT", 4096),
		DefaultQuality:  getEnvInt("DEFAULT_QUALITY", 80),
		DefaultFormat:   getEnv("DEFAULT_FORMAT", "webp"),
		FetchTimeout:    getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 10*1024*1024),
		AllowedDomains:  getEnvList("ALLOWED_DOMAINS"),
		BlockedDomains:  getEnvList("BLOCKED_DOMAINS"),
		Engine:          getEnv("ENGINE", "vips"),
		AllowPrivateNet: getEnvBool("ALLOW_PRIVATE_NETWORKS", false),
		DevMode:         getEnvBool("DEV_MODE", false),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value into trimmed, non-empty entries.
// An unset or empty variable yields nil.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
