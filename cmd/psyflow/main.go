package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/logging"
	"github.com/rmax-ai/psyflow/pkg/store/redis"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		bad.Fprintf(os.Stderr, "psyflow: %v\n", err)
		os.Exit(1)
	}
}

// app carries the resolved settings shared by every command.
type app struct {
	configPath string
	endpoint   string
	token      string
	redisURL   string
	noColor    bool
	cfg        Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "psyflow",
		Short:         "psyflow: build and compile behavioural experiments",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetVersionTemplate("psyflow {{ .Version }}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/psyflow/config.toml)")
	flags.StringVar(&a.endpoint, "endpoint", "", "daemon URL")
	flags.StringVar(&a.token, "token", "", "API bearer token")
	flags.StringVar(&a.redisURL, "redis-url", "", "cache experiment reads in Redis")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		experimentCmd(a),
		documentCmd(a),
		configCmd(a),
		mcpCmd(a),
		versionCmd(),
	)
	return root
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if a.endpoint != "" {
		cfg.Endpoint = a.endpoint
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.redisURL != "" {
		cfg.RedisURL = a.redisURL
	}
	if a.noColor {
		cfg.Color = false
	}
	if !cfg.Color {
		color.NoColor = true
	}
	a.cfg = cfg
	a.configPath = path
	return nil
}

func (a *app) client() *client.Client {
	opts := []client.Option{client.WithRetries(2, nil)}
	if a.cfg.Token != "" {
		opts = append(opts, client.WithToken(a.cfg.Token))
	}
	return client.NewClient(a.cfg.Endpoint, opts...)
}

// backend returns the client, wrapped in a Redis read cache when one is
// configured. The returned function releases the Redis connection.
func (a *app) backend(ctx context.Context) (workflow.Backend, func(), error) {
	c := a.client()
	if a.cfg.RedisURL == "" {
		return c, func() {}, nil
	}
	opts, err := goredis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis unreachable: %w", err)
	}
	cache := redis.NewExperimentCache(rdb, 0, a.logger())
	return client.NewCachedReader(c, cache), func() { rdb.Close() }, nil
}

func (a *app) logger() *slog.Logger {
	l, _, err := logging.New(logging.Options{Level: "warn"}, os.Stderr)
	if err != nil {
		return logging.Discard()
	}
	return l
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "psyflow %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the CLI configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-9s", "file"), a.configPath)
			fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-9s", "endpoint"), a.cfg.Endpoint)
			token := subtle.Sprint("(none)")
			if a.cfg.Token != "" {
				token = "set"
			}
			fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-9s", "token"), token)
			if a.cfg.RedisURL != "" {
				fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-9s", "redis"), a.cfg.RedisURL)
			}
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the current settings to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}
			if err := SaveConfig(a.configPath, a.cfg); err != nil {
				return err
			}
			good.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
