package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/internal/httpserver"
	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/internal/sweep"
	"github.com/MarkoPoloResearchLab/loyalty/internal/zaplog"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagSweepSchedule    = "sweep-schedule"
	flagAllowedOrigins   = "allowed-origins"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeySweep       = "sweep_schedule"
	configKeyOrigins     = "allowed_origins"
	defaultDatabaseURL   = "sqlite:///tmp/loyalty.db"
	defaultListenAddr    = ":8080"
	defaultSweepSchedule = "0 3 * * *"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	SweepSchedule  string
	AllowedOrigins []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loyaltyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "loyaltyd",
		Short:         "Loyalty points ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagSweepSchedule, defaultSweepSchedule, "cron schedule for the expiration sweep")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeySweep, "SWEEP_SCHEDULE"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeySweep, cmd.Flags().Lookup(flagSweepSchedule)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.SweepSchedule = viper.GetString(configKeySweep)
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweepSchedule
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := gormstore.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := loyalty.NewService(store, clock, loyalty.WithOperationLogger(zaplog.New(logger)))
	if err != nil {
		return fmt.Errorf("loyalty service init: %w", err)
	}

	scheduler, err := sweep.New(service, logger, cfg.SweepSchedule)
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, service, logger)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "loyalty.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
