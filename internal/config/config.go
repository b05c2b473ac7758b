package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Blob     BlobConfig
	Insights InsightsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir          string
	DatabaseURL      string
	DatabaseName     string
	RemoteTimeout    string
	LocalTimeout     string
	BreakerThreshold int
}

// Blob backends accepted by blob.backend.
const (
	BlobAuto   = "auto"
	BlobGridFS = "gridfs"
	BlobS3     = "s3"
	BlobLocal  = "local"
)

type BlobConfig struct {
	Backend    string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
}

type InsightsConfig struct {
	Enabled   bool
	OllamaURL string
	Model     string
}

type LogConfig struct {
	Level string
}

const (
	defaultRemoteTimeout = 5 * time.Second
	defaultLocalTimeout  = 2 * time.Second
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:          defaultDataDir(),
			DatabaseName:     "lecturelens",
			RemoteTimeout:    defaultRemoteTimeout.String(),
			LocalTimeout:     defaultLocalTimeout.String(),
			BreakerThreshold: 3,
		},
		Blob: BlobConfig{
			Backend: BlobAuto,
		},
		Insights: InsightsConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "llama3.2",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform settings store and the
// environment. A .env file in the working directory is loaded into the
// process environment first; variables already set win over it.
//
// On macOS settings live in UserDefaults (domain: com.lecturelens.app).
// Elsewhere they live in a JSON file at $XDG_CONFIG_HOME/lecturelens/config.json.
//
// Environment variables (LECTURELENS_*) override stored values. Secrets are
// read from the environment only. Values that fail their key's validation
// are reported on stderr and the default is kept.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newPlatformSettings())
}

func loadWith(st Settings) (Config, error) {
	cfg := defaults()

	if err := applySettings(&cfg, st); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// RemoteTimeoutDuration returns the per-operation deadline for the document database.
func (c StorageConfig) RemoteTimeoutDuration() time.Duration {
	return parseDuration("storage.remote_timeout", c.RemoteTimeout, defaultRemoteTimeout)
}

// LocalTimeoutDuration returns the per-operation deadline for the local store.
func (c StorageConfig) LocalTimeoutDuration() time.Duration {
	return parseDuration("storage.local_timeout", c.LocalTimeout, defaultLocalTimeout)
}

func parseDuration(key, raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] invalid duration for %s=%q. Using default %s.\n", key, raw, fallback)
		return fallback
	}
	return d
}
