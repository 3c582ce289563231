package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Common holds settings shared by every service.
type Common struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string `envconfig:"LOG_FILE"`
}

// Redis configures the connection backing the job queue, log channel and leases.
type Redis struct {
	URL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
	QueueName    string        `envconfig:"BUILD_QUEUE" default:"build-queue"`
}

// Storage configures the artifact blob store.
type Storage struct {
	Backend        string `envconfig:"BLOB_BACKEND" default:"s3"`
	Bucket         string `envconfig:"AWS_BUCKET_NAME"`
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	AccessKeyID    string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretKey      string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	Endpoint       string `envconfig:"S3_ENDPOINT"`
	ForcePathStyle bool   `envconfig:"S3_FORCE_PATH_STYLE" default:"false"`
	Dir            string `envconfig:"BLOB_DIR" default:"/tmp/minivercel/blobs"`
}

// load reads an optional dotenv file and then populates spec from the environment.
func load(spec any) error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := envconfig.Process("", spec); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	return nil
}

// Level converts the configured level name into a slog.Level.
func (c Common) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
