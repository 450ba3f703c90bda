package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mealbridge/mealbridge-core/internal/audit"
	"github.com/mealbridge/mealbridge-core/internal/auth"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/config"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/database"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RedisHealthChecker reports blacklist store connectivity for the health
// and stats endpoints. Satisfied by *redis.Client; decoupled so handler
// tests do not need a live Redis.
type RedisHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.ServerConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	DB        *database.DB
	Redis     RedisHealthChecker
	Users     auth.UserRepository
	Tokens    auth.TokenRepository
	Sessions  *auth.Service
	Codec     *auth.TokenCodec
	Blacklist auth.TokenBlacklist
	Audit     *audit.Writer // optional: nil disables audit recording
	AuditRepo audit.Repository
	Version   string
}

// Server is the HTTP API server for MealBridge Core.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg       config.ServerConfig
	logger    *logging.Logger
	db        *database.DB
	redis     RedisHealthChecker
	users     auth.UserRepository
	tokens    auth.TokenRepository
	sessions  *auth.Service
	codec     *auth.TokenCodec
	blacklist auth.TokenBlacklist
	audit     *audit.Writer
	auditRepo audit.Repository
	limiter   *rateLimiter
	version   string
	startTime time.Time
	server    *http.Server
	cancel    context.CancelFunc // stops background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, stores, session service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Users == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("user and token repositories are required")
	}
	if deps.Codec == nil || deps.Blacklist == nil {
		return nil, fmt.Errorf("token codec and blacklist are required")
	}
	if deps.DB == nil || deps.Redis == nil {
		return nil, fmt.Errorf("database and redis clients are required")
	}

	registerMetrics()

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		db:        deps.DB,
		redis:     deps.Redis,
		users:     deps.Users,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		codec:     deps.Codec,
		blacklist: deps.Blacklist,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.Security.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the rate limiter sweeper, and launches the
// HTTP listener in a background goroutine. The server is stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.sweepLoop(srvCtx.Done())
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (rate limiter sweeper)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
