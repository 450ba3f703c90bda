// MealBridge Core - Surplus Food Marketplace Backend
//
// This is the main entry point for the MealBridge Core application.
// It wires together the authentication stack:
//   - SQLite for accounts, the refresh token ledger and the audit trail
//   - Redis for the ephemeral token blacklist
//   - SMTP for admin OTP delivery
//   - The HTTP API surface under /api/v1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mealbridge/mealbridge-core/migrations"

	"github.com/mealbridge/mealbridge-core/internal/api"
	"github.com/mealbridge/mealbridge-core/internal/audit"
	"github.com/mealbridge/mealbridge-core/internal/auth"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/config"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/database"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/logging"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/redis"
	"github.com/mealbridge/mealbridge-core/internal/mailer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	rollback := flag.Bool("rollback", false, "roll back the most recent schema migration and exit")
	flag.Parse()

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *rollback {
		if err := runRollback(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runRollback undoes the latest applied migration. Development tooling:
// pair with editing the migration file and restarting the service.
func runRollback(ctx context.Context) error {
	log := logging.Default()

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("migration rolled back", "applied", len(applied), "pending", len(pending))
	return nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MealBridge Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("database migrations complete", "applied", len(applied), "pending", len(pending))

	// Connect to Redis (token blacklist)
	redisClient, err := redis.Connect(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		log.Info("closing redis connection")
		if closeErr := redisClient.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	// Build the auth stack
	users := auth.NewUserRepository(db.SqlDB())
	tokens := auth.NewTokenRepository(db.SqlDB())
	otps := auth.NewOTPRepository(db.SqlDB())

	codec := auth.NewTokenCodec(
		cfg.Security.JWT.Secret,
		cfg.GetAccessTokenTTL(),
		cfg.GetRefreshTokenTTL(),
	)
	blacklist := auth.NewRedisBlacklist(redisClient.Unwrap())
	otpMailer := mailer.New(cfg.SMTP)

	sessions := auth.NewService(
		users, tokens, otps,
		codec, blacklist, otpMailer,
		cfg.GetOTPTTL(),
		cfg.Security.OTP.Length,
		log,
	)

	// Seed the bootstrap admin on first boot
	if _, err := auth.SeedAdmin(ctx, users, log.Logger); err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}

	// Audit trail (async writer; Close drains pending entries)
	auditRepo := audit.NewSQLiteRepository(db.SqlDB())
	auditWriter := audit.NewWriter(auditRepo, 0, log)
	defer func() {
		log.Info("draining audit writer")
		auditWriter.Close()
	}()

	// Start HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.Server,
		Security:  cfg.Security,
		Logger:    log,
		DB:        db,
		Redis:     redisClient,
		Users:     users,
		Tokens:    tokens,
		Sessions:  sessions,
		Codec:     codec,
		Blacklist: blacklist,
		Audit:     auditWriter,
		AuditRepo: auditRepo,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, redisClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (stops accepting requests)
	// 2. Audit writer (drains pending entries)
	// 3. Redis
	// 4. Database

	log.Info("MealBridge Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MEALBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MEALBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - redisClient: Redis client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, redisClient *redis.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}
