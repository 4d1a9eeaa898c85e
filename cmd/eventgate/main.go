package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/finsight/eventgate/internal/lockfile"
	"github.com/finsight/eventgate/internal/models"
	"github.com/finsight/eventgate/internal/scheduler"
	"github.com/finsight/eventgate/internal/store"
	"github.com/finsight/eventgate/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for eventgate state data
	DefaultStateDir = "/var/lib/eventgate"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "eventgate.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// A local SQLite database must not be shared by two daemons; take the state
	// directory lock before touching it.
	if usesSQLite(flags) {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	// Open the store
	st, err := openStore(config, flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sweeper := store.NewSweeper(st, store.SweeperConfig{
		Interval:          config.SweepInterval,
		BatchSize:         config.SweepBatchSize,
		DedupRetention:    config.DedupRetention,
		OrderingRetention: config.OrderingRetention,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run one sweep on boot so a long-stopped daemon catches up immediately.
	if stats, err := sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
		slog.Error("Initial sweep failed", "error", err)
	} else {
		slog.Info("Initial sweep complete",
			"idempotencyExpired", stats.IdempotencyExpired,
			"dedupExpired", stats.DedupExpired,
			"orderingStale", stats.OrderingStale)
	}

	// A cron expression pins sweeps to fixed times of day; otherwise the sweeper
	// runs on its interval ticker.
	if config.SweepCron != "" {
		slog.Info("Bootstrapping eventgate retention sweeper", "cron", config.SweepCron)
		sched := scheduler.New()
		err := sched.AddJob(config.SweepCron, func() {
			if _, err := sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
				slog.Error("Scheduled sweep failed", "error", err)
			}
		})
		if err != nil {
			slog.Error("Invalid sweep cron expression", "error", err, "cron", config.SweepCron)
			os.Exit(1)
		}
		<-ctx.Done()
		sched.Stop()
	} else {
		slog.Info("Bootstrapping eventgate retention sweeper", "interval", config.SweepInterval)
		sweeper.Run(ctx)
	}
	slog.Info("eventgate exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver          string
	DatabaseURL       string
	StateDir          string
	SweepCron         string
	SweepInterval     time.Duration
	SweepBatchSize    int
	DedupRetention    time.Duration
	OrderingRetention time.Duration
	StuckTimeout      time.Duration
	MaxRetries        int
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	dbDriver *string
	dbDSN    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:          os.Getenv("EVENTGATE_DB_DRIVER"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("EVENTGATE_STATE_DIR"),
		SweepCron:         os.Getenv("EVENTGATE_SWEEP_CRON"),
		SweepInterval:     util.ParseDurationEnv("EVENTGATE_SWEEP_INTERVAL", store.DefaultSweepInterval),
		SweepBatchSize:    util.ParseIntEnv("EVENTGATE_SWEEP_BATCH_SIZE", store.DefaultSweepBatchSize),
		DedupRetention:    util.ParseDurationEnv("EVENTGATE_DEDUP_RETENTION", models.DefaultDedupRetention),
		OrderingRetention: util.ParseDurationEnv("EVENTGATE_ORDERING_RETENTION", models.DefaultOrderingRetention),
		StuckTimeout:      util.ParseDurationEnv("EVENTGATE_STUCK_TIMEOUT", models.DefaultStuckTimeout),
		MaxRetries:        util.ParseIntEnv("EVENTGATE_MAX_RETRIES", models.DefaultMaxRetries),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No EVENTGATE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("EVENTGATE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", config.StateDir, "state directory for eventgate data (overrides $EVENTGATE_STATE_DIR)"),
		dbDriver: flag.String("db-driver", config.DbDriver, "database driver, postgres or sqlite3 (overrides $EVENTGATE_DB_DRIVER)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
	}
	flag.Parse()
	return flags
}

// resolveDriver returns the configured driver, inferring it from the DSN shape when
// the flag is unset.
func resolveDriver(flags Flags) string {
	if *flags.dbDriver != "" {
		return *flags.dbDriver
	}
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

func usesSQLite(flags Flags) bool {
	return resolveDriver(flags) != "postgres"
}

// openStore selects the backend from the driver flag (or the DSN shape when unset)
// and opens it.
func openStore(config Config, flags Flags) (store.Store, error) {
	driver := resolveDriver(flags)
	dsn := *flags.dbDSN

	policy := []store.Option{
		store.WithStuckTimeout(config.StuckTimeout),
		store.WithMaxRetries(config.MaxRetries),
	}

	switch driver {
	case "postgres":
		return store.NewPostgresStore(append(policy, store.WithPostgresDSN(dsn))...)
	default:
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("No DSN set, using state-dir SQLite database", "dsn", dsn)
		}
		return store.NewSQLiteStore(append(policy, store.WithSQLiteDSN(dsn))...)
	}
}
