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

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/points/internal/httpserver"
	"github.com/MarkoPoloResearchLab/points/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/points/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/points/internal/timesource"
	"github.com/MarkoPoloResearchLab/points/pkg/keylock"
	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagTimezone       = "timezone"
	flagLockTTL        = "lock-ttl"
	flagSweepInterval  = "sweep-interval"
	flagAllowedOrigins = "allowed-origins"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyTimezone       = "timezone"
	configKeyLockTTL        = "lock_ttl"
	configKeySweepInterval  = "sweep_interval"
	configKeyAllowedOrigins = "allowed_origins"

	defaultDatabaseURL   = "memory://"
	defaultListenAddr    = ":8080"
	defaultLockTTL       = 24 * time.Hour
	defaultSweepInterval = time.Hour
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	Timezone       string
	LockTTL        time.Duration
	SweepInterval  time.Duration
	AllowedOrigins string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pointsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "pointsd",
		Short:         "Point balance HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "Database URL (memory://, sqlite path, or postgres URL)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagTimezone, timesource.KSTZone, "IANA zone of the daily-limit calendar")
	cmd.Flags().Duration(flagLockTTL, defaultLockTTL, "Idle time before a per-entity lock is evicted")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "Interval between lock eviction sweeps")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-delimited CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyTimezone:       "POINTS_TIMEZONE",
		configKeyLockTTL:        "LOCK_TTL",
		configKeySweepInterval:  "SWEEP_INTERVAL",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyTimezone:       flagTimezone,
		configKeyLockTTL:        flagLockTTL,
		configKeySweepInterval:  flagSweepInterval,
		configKeyAllowedOrigins: flagAllowedOrigins,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.Timezone = viper.GetString(configKeyTimezone)
	if cfg.Timezone == "" {
		cfg.Timezone = timesource.KSTZone
	}
	cfg.LockTTL = viper.GetDuration(configKeyLockTTL)
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	clock, err := timesource.NewWallClock(cfg.Timezone)
	if err != nil {
		return err
	}

	store, registrar, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	locks, err := keylock.NewManager(cfg.LockTTL.Milliseconds(), clock.NowMillis)
	if err != nil {
		return fmt.Errorf("lock manager init: %w", err)
	}

	service, err := points.NewService(store, clock, locks,
		points.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("points service init: %w", err)
	}

	go runLockSweeper(ctx, logger, locks, clock, cfg.SweepInterval)

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	return httpserver.Run(ctx, serverConfig, service, registrar, logger)
}

func runLockSweeper(ctx context.Context, logger *zap.Logger, locks *keylock.Manager, clock *timesource.WallClock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := locks.EvictStale(clock.NowMillis())
			logger.Info("lock cleanup completed",
				zap.Int("removed", removed),
				zap.Int("remaining", locks.Size()),
			)
		}
	}
}

// zapOperationLogger forwards domain operation logs to zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry points.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("entity_key", entry.EntityKey),
		zap.Int64("amount", entry.Amount),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("operation completed", append(fields, zap.Int64("new_balance", entry.NewBalance))...)
}

type storeRegistrar interface {
	points.Store
	httpserver.Registrar
}

func openStore(ctx context.Context, dsn string) (points.Store, httpserver.Registrar, func() error, error) {
	if strings.HasPrefix(dsn, "memory") {
		store := memstore.New()
		return store, store, func() error { return nil }, nil
	}
	gormDB, cleanup, driver, err := openDatabase(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, nil, err
	}
	var store storeRegistrar = gormstore.New(gormDB)
	return store, store, cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
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
			path = "points.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.PointBalance{}, &gormstore.PointHistory{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
