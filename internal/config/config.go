// Package config resolves facemark settings from the environment. Command
// line flags override these values in cmd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds every setting shared by the commands.
type Config struct {
	FramesDir          string
	Python             string
	WorkerScript       string
	WorkerTimeout      time.Duration
	DetectionThreshold float64
	CascadePath        string
	ProgressAddr       string // empty disables the websocket feed
	LogLevel           string
	DatabaseURL        string // empty disables the run ledger
}

// Load reads the FACEMARK_* and POSTGRES_* variables, falling back to defaults.
// Malformed numeric values are an error rather than silently defaulted.
func Load() (Config, error) {
	cfg := Config{
		FramesDir:    getEnv("FACEMARK_FRAMES_DIR", defaultFramesDir()),
		Python:       getEnv("FACEMARK_PYTHON", "python3"),
		WorkerScript: getEnv("FACEMARK_WORKER_SCRIPT", "python/detect_worker.py"),
		CascadePath:  getEnv("FACEMARK_CASCADE", ""),
		ProgressAddr: getEnv("FACEMARK_PROGRESS_ADDR", ""),
		LogLevel:     getEnv("FACEMARK_LOG_LEVEL", "info"),
		DatabaseURL:  databaseURL(),
	}

	var err error
	if cfg.WorkerTimeout, err = time.ParseDuration(getEnv("FACEMARK_WORKER_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("FACEMARK_WORKER_TIMEOUT: %w", err)
	}
	if cfg.DetectionThreshold, err = strconv.ParseFloat(getEnv("FACEMARK_DETECTION_THRESHOLD", "0.5"), 64); err != nil {
		return Config{}, fmt.Errorf("FACEMARK_DETECTION_THRESHOLD: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges after flags have been applied.
func (c Config) Validate() error {
	if c.FramesDir == "" {
		return fmt.Errorf("frames directory must be set")
	}
	if c.DetectionThreshold < 0 || c.DetectionThreshold > 1 {
		return fmt.Errorf("detection threshold must be between 0.0 and 1.0, got %v", c.DetectionThreshold)
	}
	if c.WorkerTimeout < 0 {
		return fmt.Errorf("worker timeout must not be negative, got %v", c.WorkerTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// databaseURL assembles a connection string from POSTGRES_* variables.
// Unlike the other settings the ledger is opt-in: without POSTGRES_HOST or
// FACEMARK_DB no database is used.
func databaseURL() string {
	if url := os.Getenv("FACEMARK_DB"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := getEnv("POSTGRES_DB", "facemark")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func defaultFramesDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("facemark-frames-%d", os.Getpid()))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
