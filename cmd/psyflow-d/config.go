package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rmax-ai/psyflow/pkg/api"
	"github.com/rmax-ai/psyflow/pkg/logging"
)

const (
	defaultAddr      = "127.0.0.1:8090"
	defaultLogFormat = "json"
)

type Config struct {
	DBPath         string
	DatabaseURL    string
	Addr           string
	RedisURL       string
	ArtifactDir    string
	ArtifactBucket string
	ArtifactPrefix string
	S3Endpoint     string
	APIToken       string
	LogLevel       string
	LogFormat      string
	LogFile        string
	CompileLockTTL time.Duration
}

// UsesPostgres reports whether experiments live in postgres instead of the
// SQLite file.
func (c Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dbPath := envOrDefault("PSYFLOW_DB_PATH", filepath.Join(cwd, "psyflow.db"))
	databaseURL := os.Getenv("PSYFLOW_DATABASE_URL")
	addr := addrFromEnv(defaultAddr)
	redisURL := os.Getenv("PSYFLOW_REDIS_URL")
	artifactDir := envOrDefault("PSYFLOW_ARTIFACT_DIR", filepath.Join(cwd, "artifacts"))
	artifactBucket := os.Getenv("PSYFLOW_ARTIFACT_BUCKET")
	artifactPrefix := os.Getenv("PSYFLOW_ARTIFACT_PREFIX")
	s3Endpoint := os.Getenv("PSYFLOW_S3_ENDPOINT")
	apiToken := os.Getenv("PSYFLOW_API_TOKEN")
	logLevel := envOrDefault("PSYFLOW_LOG_LEVEL", "info")
	logFormat := envOrDefault("PSYFLOW_LOG_FORMAT", defaultLogFormat)
	logFile := os.Getenv("PSYFLOW_LOG_FILE")
	lockTTL := api.DefaultCompileLockTTL
	if ttlEnv := os.Getenv("PSYFLOW_COMPILE_LOCK_TTL"); ttlEnv != "" {
		parsed, err := time.ParseDuration(ttlEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PSYFLOW_COMPILE_LOCK_TTL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("PSYFLOW_COMPILE_LOCK_TTL must be positive")
		}
		lockTTL = parsed
	}

	flagSet := flag.NewFlagSet("psyflow-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagDatabaseURL := flagSet.String("database-url", databaseURL, "postgres connection URL; overrides -db")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagRedis := flagSet.String("redis-url", redisURL, "redis URL for shared compile locks")
	flagArtifactDir := flagSet.String("artifact-dir", artifactDir, "directory for compiled scripts")
	flagBucket := flagSet.String("artifact-bucket", artifactBucket, "S3 bucket for compiled scripts; overrides -artifact-dir")
	flagPrefix := flagSet.String("artifact-prefix", artifactPrefix, "key prefix inside the S3 bucket")
	flagS3Endpoint := flagSet.String("s3-endpoint", s3Endpoint, "S3 compatible endpoint URL")
	flagToken := flagSet.String("api-token", apiToken, "bearer token required on experiment routes")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", logFormat, "log format: json|text")
	flagLogFile := flagSet.String("log-file", logFile, "also write JSON logs to this file")
	flagLockTTL := flagSet.String("compile-lock-ttl", lockTTL.String(), "how long a compile holds its lock")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	ttl, err := time.ParseDuration(*flagLockTTL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid compile lock ttl: %w", err)
	}
	if ttl <= 0 {
		return Config{}, errors.New("compile lock ttl must be positive")
	}

	config := Config{
		DBPath:         resolvePath(*flagDB, cwd),
		DatabaseURL:    strings.TrimSpace(*flagDatabaseURL),
		Addr:           strings.TrimSpace(*flagAddr),
		RedisURL:       strings.TrimSpace(*flagRedis),
		ArtifactDir:    resolvePath(*flagArtifactDir, cwd),
		ArtifactBucket: strings.TrimSpace(*flagBucket),
		ArtifactPrefix: strings.Trim(strings.TrimSpace(*flagPrefix), "/"),
		S3Endpoint:     strings.TrimSpace(*flagS3Endpoint),
		APIToken:       *flagToken,
		LogLevel:       strings.ToLower(strings.TrimSpace(*flagLogLevel)),
		LogFormat:      strings.ToLower(strings.TrimSpace(*flagLogFormat)),
		LogFile:        resolvePath(*flagLogFile, cwd),
		CompileLockTTL: ttl,
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if !config.UsesPostgres() && config.DBPath == "" {
		return Config{}, errors.New("db cannot be empty without database-url")
	}
	if _, err := logging.ParseLevel(config.LogLevel); err != nil {
		return Config{}, err
	}
	if config.LogFormat != "json" && config.LogFormat != "text" {
		return Config{}, fmt.Errorf("unsupported log format: %s", config.LogFormat)
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("PSYFLOW_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("PSYFLOW_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
