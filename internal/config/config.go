// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database, booking engine limits, rate
// limiting, collaborators (Redis, NATS, calendar providers) and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "slotbook")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and tunes the persistence backend.
type DBConfig struct {
	Driver       string // DB_DRIVER sqlite|postgres|mysql
	DSN          string // DB_DSN (file path for sqlite)
	MaxOpenConns int    // DB_MAX_OPEN_CONNS
	MaxIdleConns int    // DB_MAX_IDLE_CONNS
	LogQueries   bool   // DB_LOG_QUERIES
}

// BookingConfig bounds the booking transaction and its side effects.
type BookingConfig struct {
	LockTimeout           time.Duration // LOCK_TIMEOUT: max wait for scope locks
	TxTimeout             time.Duration // TX_TIMEOUT: max critical-section duration
	DurationTolerance     time.Duration // DURATION_TOLERANCE
	ReminderLead          time.Duration // REMINDER_LEAD
	SideEffectTimeout     time.Duration // SIDE_EFFECT_TIMEOUT per step
	MaxSideEffectAttempts int           // MAX_SIDE_EFFECT_ATTEMPTS
	ReconcileInterval     time.Duration // RECONCILE_INTERVAL
	ReminderPollInterval  time.Duration // REMINDER_POLL_INTERVAL
	CancelTokenSecret     string        // CANCEL_TOKEN_SECRET
}

// RedisConfig configures the optional Redis front lock and busy cache.
// An empty Addr disables both.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	BusyCacheTTL time.Duration
	LockTTL      time.Duration
}

// NATSConfig configures the notification publisher. An empty URL selects the
// log-only sender.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// GoogleConfig holds the OAuth client used to refresh stored Google tokens.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Booking engine
	Booking BookingConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Collaborators
	Redis  RedisConfig
	NATS   NATSConfig
	Google GoogleConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DBConfig{
			Driver:       strings.ToLower(getenv("DB_DRIVER", DriverSQLite)),
			DSN:          getenv("DB_DSN", getenv("DB_PATH", "slotbook.db")),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getint("DB_MAX_IDLE_CONNS", 10),
			LogQueries:   getbool("DB_LOG_QUERIES", false),
		},

		// Booking engine
		Booking: BookingConfig{
			LockTimeout:           getdur("LOCK_TIMEOUT", 3*time.Second),
			TxTimeout:             getdur("TX_TIMEOUT", 5*time.Second),
			DurationTolerance:     getdur("DURATION_TOLERANCE", time.Minute),
			ReminderLead:          getdur("REMINDER_LEAD", 24*time.Hour),
			SideEffectTimeout:     getdur("SIDE_EFFECT_TIMEOUT", 10*time.Second),
			MaxSideEffectAttempts: getint("MAX_SIDE_EFFECT_ATTEMPTS", 5),
			ReconcileInterval:     getdur("RECONCILE_INTERVAL", time.Minute),
			ReminderPollInterval:  getdur("REMINDER_POLL_INTERVAL", 30*time.Second),
			CancelTokenSecret:     getenv("CANCEL_TOKEN_SECRET", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Collaborators
		Redis: RedisConfig{
			Addr:         getenv("REDIS_ADDR", ""),
			Password:     getenv("REDIS_PASSWORD", ""),
			DB:           getint("REDIS_DB", 0),
			BusyCacheTTL: getdur("BUSY_CACHE_TTL", 30*time.Second),
			LockTTL:      getdur("REDIS_LOCK_TTL", 10*time.Second),
		},
		NATS: NATSConfig{
			URL:           getenv("NATS_URL", ""),
			SubjectPrefix: getenv("NATS_SUBJECT_PREFIX", "slotbook.notify"),
		},
		Google: GoogleConfig{
			ClientID:     getenv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getenv("GOOGLE_CLIENT_SECRET", ""),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "slotbook"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = DriverPostgres
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.DB.MaxOpenConns < 1 || cfg.DB.MaxIdleConns < 0 {
		return cfg, errors.New("DB_MAX_OPEN_CONNS must be >= 1 and DB_MAX_IDLE_CONNS >= 0")
	}
	b := cfg.Booking
	if b.LockTimeout <= 0 || b.TxTimeout <= 0 || b.SideEffectTimeout <= 0 {
		return cfg, errors.New("LOCK_TIMEOUT, TX_TIMEOUT and SIDE_EFFECT_TIMEOUT must be > 0")
	}
	if b.DurationTolerance < 0 || b.ReminderLead < 0 {
		return cfg, errors.New("DURATION_TOLERANCE and REMINDER_LEAD must be >= 0")
	}
	if b.MaxSideEffectAttempts < 1 {
		return cfg, errors.New("MAX_SIDE_EFFECT_ATTEMPTS must be >= 1")
	}
	if b.ReconcileInterval <= 0 || b.ReminderPollInterval <= 0 {
		return cfg, errors.New("RECONCILE_INTERVAL and REMINDER_POLL_INTERVAL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Redis.Addr != "" && (cfg.Redis.BusyCacheTTL < 0 || cfg.Redis.LockTTL <= 0) {
		return cfg, errors.New("BUSY_CACHE_TTL must be >= 0 and REDIS_LOCK_TTL > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// env reads k and parses it. Unset, blank or unparseable values yield def.
func env[T any](k string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return env(k, def, func(s string) (string, error) { return s, nil })
}

func getint(k string, def int) int { return env(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return env(k, def, time.ParseDuration) }

func getfloat(k string, def float64) float64 {
	return env(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getbool(k string, def bool) bool { return env(k, def, parseBool) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns "/" or a path with one leading slash and no
// trailing slash.
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
