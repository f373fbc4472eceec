// Command slotbook runs the availability and booking engine.
//
//	@title			slotbook API
//	@version		1.0
//	@description	Availability and booking engine for shared booking links.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/calendar"
	"github.com/tbourn/slotbook/internal/config"
	httpapi "github.com/tbourn/slotbook/internal/http"
	"github.com/tbourn/slotbook/internal/lock"
	"github.com/tbourn/slotbook/internal/notify"
	"github.com/tbourn/slotbook/internal/observability"
	"github.com/tbourn/slotbook/internal/repo"
	"github.com/tbourn/slotbook/internal/services"
	"github.com/tbourn/slotbook/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	logger  zerolog.Logger
	cfg     config.Config
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "slotbook",
	Short:         "slotbook - availability and booking engine",
	Long:          "slotbook serves booking links: it computes availability across team members, assigns and confirms bookings atomically, and syncs calendars, reminders and notifications afterwards.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, reminder dispatcher and reconciler",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file (if any), loads configuration and sets up
// the global logger. Variables already in the environment win.
func loadConfig() error {
	if envFile != "" && !sysutil.IsTruthy(os.Getenv("SLOTBOOK_NO_DOTENV")) {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	return nil
}

// openDatabase connects and migrates the schema.
func openDatabase() (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// app bundles the booking service and the clients it owns.
type app struct {
	svc      *services.BookingService
	sender   notify.Sender
	closers  []func()
	reminder *notify.Dispatcher
}

func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// buildApp wires the optional collaborators: Redis (front lock and busy
// cache), NATS (notifications) and calendar providers.
func buildApp(db *gorm.DB) (*app, error) {
	rt := &app{}

	registry := &calendar.Registry{DB: db, Logger: logger}
	if cfg.Google.ClientID != "" {
		registry.Google = calendar.GoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
	}
	if cfg.GinMode != gin.ReleaseMode {
		registry.Memory = calendar.NewMemory()
	}

	var locker services.FrontLocker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; continuing with database locks")
		}
		registry.Redis = rdb
		registry.CacheTTL = cfg.Redis.BusyCacheTTL
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, logger)
	}

	rt.sender = notify.LogSender{Logger: logger}
	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = nc.Drain() })
		rt.sender = notify.NewNATSSender(nc, cfg.NATS.SubjectPrefix)
	}

	tokens := services.NewTokenSigner(cfg.Booking.CancelTokenSecret)
	if tokens == nil {
		logger.Warn().Msg("CANCEL_TOKEN_SECRET not set; cancellation is disabled")
	}

	host, _ := os.Hostname()
	rt.svc = &services.BookingService{
		DB:             db,
		Calendars:      registry,
		Reminders:      &notify.DBScheduler{DB: db},
		Notifier:       rt.sender,
		Locker:         locker,
		Tokens:         tokens,
		Config:         cfg.Booking,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger.With().Str("component", "booking").Logger(),
		Holder:         sysutil.FirstNonEmpty(os.Getenv("SLOTBOOK_INSTANCE_ID"), host, "slotbook"),
	}
	rt.reminder = &notify.Dispatcher{
		DB:           db,
		Sender:       rt.sender,
		Logger:       logger.With().Str("component", "reminders").Logger(),
		BatchSize:    50,
		MaxAttempts:  cfg.Booking.MaxSideEffectAttempts,
		RetryBackoff: time.Minute,
	}
	return rt, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger.Info().Str("version", version).Msg("slotbook starting")

	shutdownTracing, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	rt, err := buildApp(db)
	if err != nil {
		return err
	}
	defer rt.Close()

	workers, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go rt.reminder.Run(workers, cfg.Booking.ReminderPollInterval)
	reconciler := &services.Reconciler{
		Bookings:  rt.svc,
		BatchSize: 100,
		Logger:    logger.With().Str("component", "reconciler").Logger(),
	}
	go reconciler.Run(workers, cfg.Booking.ReconcileInterval)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, rt.svc, cfg)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutting down gracefully...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("slotbook stopped")
	return nil
}
