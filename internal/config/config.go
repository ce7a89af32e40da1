package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultHTTPAddr         = ":8099"
	defaultDBPath           = "/data/tomato_presence.db"
	defaultFrontendDist     = "/app/frontend/dist"
	defaultAddonOptionsPath = "/data/options.json"
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr         string
	DBPath           string
	FrontendDist     string
	AddonOptionsPath string
	LogLevel         slog.Level
}

// Load builds Config from environment variables using stable defaults.
func Load() Config {
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:           getenv("DB_PATH", defaultDBPath),
		FrontendDist:     getenv("FRONTEND_DIST", defaultFrontendDist),
		AddonOptionsPath: getenv("ADDON_OPTIONS_PATH", defaultAddonOptionsPath),
		LogLevel:         parseLogLevel(getenv("LOG_LEVEL", "info")),
	}
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
