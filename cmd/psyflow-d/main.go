package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/psyflow/pkg/api"
	"github.com/rmax-ai/psyflow/pkg/blob"
	"github.com/rmax-ai/psyflow/pkg/compiler"
	"github.com/rmax-ai/psyflow/pkg/logging"
	"github.com/rmax-ai/psyflow/pkg/store"
	"github.com/rmax-ai/psyflow/pkg/store/postgres"
	"github.com/rmax-ai/psyflow/pkg/store/redis"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, `{"level":"fatal","msg":"invalid_config","error":%q}`+"\n", err.Error())
		os.Exit(2)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"level":"fatal","msg":"failed_to_init_logging","error":%q}`+"\n", err.Error())
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	logger.Info("system_started", "component", "psyflow-d")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	b, err := openBackends(ctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer b.Close(logger)

	comp, err := compiler.New()
	if err != nil {
		return fmt.Errorf("failed to init compiler: %w", err)
	}

	srv := api.NewServer(b.repo, comp, cfg.Addr,
		api.WithCompileLocker(b.locks),
		api.WithCompileLockTTL(cfg.CompileLockTTL),
		api.WithBlobStore(b.blobs),
		api.WithToken(cfg.APIToken),
		api.WithLogger(logger),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("shutdown_initiated", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server_stop_failed", "error", err)
	}

	logger.Info("shutdown_complete")
	return nil
}

// backends holds the storage selected by the configuration.
type backends struct {
	repo  store.Repository
	locks store.CompileLocker
	blobs blob.BlobStore
	redis *goredis.Client
}

func openBackends(ctx context.Context, cfg Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.UsesPostgres() {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres store: %w", err)
		}
		b.repo, b.locks = pg, pg
		logger.Info("store_initialized", "driver", "postgres")
	} else {
		st, err := store.NewStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to init store: %w", err)
		}
		b.repo, b.locks = st, st
		logger.Info("store_initialized", "driver", "sqlite", "path", cfg.DBPath)
	}

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.Close(logger)
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		b.redis = goredis.NewClient(opts)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close(logger)
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		b.locks = redis.NewCompileLocker(b.redis)
		logger.Info("compile_locks_initialized", "driver", "redis")
	}

	if cfg.ArtifactBucket != "" {
		s3Store, err := blob.OpenS3BlobStore(ctx, cfg.ArtifactBucket, cfg.ArtifactPrefix, cfg.S3Endpoint)
		if err != nil {
			b.Close(logger)
			return nil, fmt.Errorf("failed to init artifact bucket: %w", err)
		}
		b.blobs = s3Store
		logger.Info("artifact_store_initialized", "driver", "s3", "bucket", cfg.ArtifactBucket)
	} else if cfg.ArtifactDir != "" {
		b.blobs = blob.NewLocalBlobStore(cfg.ArtifactDir)
		logger.Info("artifact_store_initialized", "driver", "local", "path", cfg.ArtifactDir)
	}

	return b, nil
}

// Close releases every opened backend.
func (b *backends) Close(logger *slog.Logger) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Error("failed_to_close_redis", "error", err)
		}
	}
	if b.repo != nil {
		if err := b.repo.Close(); err != nil {
			logger.Error("failed_to_close_store", "error", err)
		} else {
			logger.Info("store_closed")
		}
	}
}
