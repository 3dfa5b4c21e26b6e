package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/health"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Issue tracker - users, tags and issues behind a REST API",
	Long: `tracker is a small issue tracker. It serves a REST API and web UI
backed by SQLite, manages users, tags and issues from the command line,
and exposes issue tools to AI assistants over MCP.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tracker/config.yaml)")
}

func initConfig() {
	// A .env in the working directory is optional.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	_ = viper.ReadInConfig()
}

// setDefaults registers every known config key rooted at stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "tracker.db"))

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.trust_proxy", false)

	viper.SetDefault("auth.cookie_name", auth.DefaultCookieName)
	viper.SetDefault("auth.cookie_secure", false)
	viper.SetDefault("auth.session_ttl", auth.DefaultSessionTTL)
	viper.SetDefault("auth.session_store", "sqlite")
	viper.SetDefault("auth.trusted_origins", []string{})
	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.requests_per_minute", 100)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")

	viper.SetDefault("mcp.api_base_url", "http://localhost:3000/api")
	viper.SetDefault("mcp.api_key", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	slog.SetDefault(newLogger())

	// The store opens lazily so config and version run without a database.
}

// newLogger builds the server logger from log.level and log.format.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(viper.GetString("log.format"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newAuthService wires the auth service to the configured session store.
// ping is non-nil when the session store needs its own readiness check, and
// cleanup closes any connection opened here.
func newAuthService(ctx context.Context, s store.Store) (svc *auth.Service, ping health.CheckFunc, cleanup func(), err error) {
	cfg := auth.Config{
		SessionTTL:     viper.GetDuration("auth.session_ttl"),
		CookieName:     viper.GetString("auth.cookie_name"),
		CookieSecure:   viper.GetBool("auth.cookie_secure"),
		TrustedOrigins: viper.GetStringSlice("auth.trusted_origins"),
	}

	switch backend := viper.GetString("auth.session_store"); backend {
	case "", "sqlite":
		return auth.NewService(s, nil, cfg), nil, func() {}, nil
	case "redis":
		rdb, err := auth.OpenRedis(ctx, viper.GetString("redis.url"))
		if err != nil {
			return nil, nil, nil, err
		}
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		cleanup = func() { _ = rdb.Close() }
		return auth.NewService(s, auth.NewRedisSessions(rdb), cfg), ping, cleanup, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown auth.session_store %q (want sqlite or redis)", backend)
	}
}
