package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultExtractEndpoint = "https://plankton-app-qajlk.ondigitalocean.app/extraction_api"
	defaultMatchEndpoint   = "https://endeavor-interview-api-gzwki.ondigitalocean.app/match"
)

type Config struct {
	DBPath     string
	UploadDir  string
	ListenAddr string

	ExtractEndpoint string
	MatchEndpoint   string

	Workers          int
	RequestTimeoutMs int
	MaxRetries       int
	MatchLimit       int
	SyncExtract      bool

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		UploadDir:  getEnv("UPLOAD_DIR", filepath.Join(cwd, "uploads")),
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		Workers:          getEnvInt("MAX_WORKERS", 4),
		RequestTimeoutMs: getEnvInt("REQUEST_TIMEOUT_MS", 30000),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		MatchLimit:       getEnvInt("MATCH_LIMIT", 5),
		SyncExtract:      getEnvBool("SYNC_EXTRACT", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	cfg.ExtractEndpoint, cfg.MatchEndpoint = resolveEndpoints()

	return cfg, nil
}

// resolveEndpoints applies a strict precedence: an explicit endpoint var
// wins, then a path derived from API_BASE, then the hardcoded default.
func resolveEndpoints() (extract, match string) {
	base := strings.TrimRight(strings.TrimSpace(getEnv("API_BASE", "")), "/")

	extract = getEnv("EXTRACT_ENDPOINT", "")
	if extract == "" {
		if base != "" {
			extract = base + "/extraction_api"
		} else {
			extract = defaultExtractEndpoint
		}
	}

	match = getEnv("MATCH_ENDPOINT", "")
	if match == "" {
		if base != "" {
			match = base + "/match"
		} else {
			match = defaultMatchEndpoint
		}
	}

	return extract, match
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
