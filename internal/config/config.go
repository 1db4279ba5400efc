package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidValue = errors.New("invalid config value")

type Logging struct {
	Level       string
	Development bool
}

// Server is the configuration of cmd/server.
type Server struct {
	Addr           string
	MediaPath      string // absolute
	SyncInterval   time.Duration
	AllowedOrigins []string
	Log            Logging
}

// Viewer is the configuration of cmd/viewer.
type Viewer struct {
	ServerURL      string
	SyncInterval   time.Duration
	DriftThreshold float64 // seconds
	ReconnectDelay time.Duration
	Log            Logging
}

// LoadEnvFile loads .env (or the given files) into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadServer() (*Server, error) {
	interval, err := getEnvAsDurationMs("SYNC_INTERVAL_MS", 2000)
	if err != nil {
		return nil, err
	}
	logging, err := loadLogging()
	if err != nil {
		return nil, err
	}

	mediaPath, err := filepath.Abs(getEnv("MEDIA_PATH", "./video.mp4"))
	if err != nil {
		return nil, fmt.Errorf("resolve MEDIA_PATH: %w", err)
	}

	return &Server{
		Addr:           getEnv("ADDR", ":8080"),
		MediaPath:      mediaPath,
		SyncInterval:   interval,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		Log:            logging,
	}, nil
}

func LoadViewer() (*Viewer, error) {
	interval, err := getEnvAsDurationMs("SYNC_INTERVAL_MS", 2000)
	if err != nil {
		return nil, err
	}
	reconnect, err := getEnvAsDurationMs("RECONNECT_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	threshold, err := getEnvAsFloat("DRIFT_THRESHOLD_SEC", 0.1)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("DRIFT_THRESHOLD_SEC=%v: %w", threshold, ErrInvalidValue)
	}
	logging, err := loadLogging()
	if err != nil {
		return nil, err
	}

	return &Viewer{
		ServerURL:      getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		SyncInterval:   interval,
		DriftThreshold: threshold,
		ReconnectDelay: reconnect,
		Log:            logging,
	}, nil
}

func loadLogging() (Logging, error) {
	dev, err := getEnvAsBool("LOG_DEV", false)
	if err != nil {
		return Logging{}, err
	}
	return Logging{Level: getEnv("LOG_LEVEL", "info"), Development: dev}, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDurationMs(key string, defaultMs int) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return time.Duration(defaultMs) * time.Millisecond, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("%s=%q: %w", key, raw, ErrInvalidValue)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, raw, ErrInvalidValue)
	}
	return f, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s=%q: %w", key, raw, ErrInvalidValue)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
