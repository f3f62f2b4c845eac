package config

import (
	"os"
	"strconv"
	"time"

	"kwscope/internal/ratelimit/models"
)

// Config is the full process configuration, assembled once in main. All
// thresholds, windows, TTLs and policy flags are externally owned; nothing in
// the core mutates them after startup.
type Config struct {
	Server   Server
	Redis    RedisConfig
	Provider ProviderConfig
	Breaker  BreakerConfig
	Cache    CacheConfig
	Limits   LimitsConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// RedisConfig holds connection settings for the shared storage backend. An
// empty URL means Redis is not configured and the process falls back to the
// bounded in-memory backend (single-instance, non-authoritative).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProviderConfig holds settings for the upstream keyword data provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	// Timeout is the hard per-call deadline for provider requests. Calls
	// wrapped by the circuit breaker must never block indefinitely.
	Timeout time.Duration
	// UseStub swaps in the deterministic stub source for local development.
	UseStub bool
}

// BreakerConfig holds circuit breaker tuning for the provider call path.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int
	// MaxHalfOpenProbes caps concurrent trial calls while half-open.
	// Zero means unlimited.
	MaxHalfOpenProbes int
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL time.Duration
	// PrivacyMode disables all cache reads and writes when set. Checked on
	// every operation so flipping it never serves stale data.
	PrivacyMode bool
}

// LimitsConfig holds the rate limit policies plus the process-local global
// throttle. Research is the per-client quota enforced inside the
// orchestration flow; Burst is a cheap per-IP guard applied as route
// middleware in front of it.
type LimitsConfig struct {
	Research models.Policy
	Burst    models.Policy
	// GlobalRPS caps total requests per second per instance before any
	// per-client accounting happens. Zero disables the throttle.
	GlobalRPS   float64
	GlobalBurst int
}

// FromEnv builds the full configuration from environment variables so main
// stays lean. Defaults target local development; production deployments are
// expected to set KWSCOPE_REDIS_URL and the provider credentials.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("KWSCOPE_ADDR", ":8080"),
			LogLevel:        envString("KWSCOPE_LOG_LEVEL", "info"),
			ShutdownTimeout: envDuration("KWSCOPE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("KWSCOPE_REDIS_URL"),
			PoolSize:     envInt("KWSCOPE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("KWSCOPE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("KWSCOPE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("KWSCOPE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("KWSCOPE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Provider: ProviderConfig{
			BaseURL: envString("KWSCOPE_PROVIDER_URL", "https://api.keyword-provider.example"),
			APIKey:  os.Getenv("KWSCOPE_PROVIDER_API_KEY"),
			Timeout: envDuration("KWSCOPE_PROVIDER_TIMEOUT", 10*time.Second),
			UseStub: envBool("KWSCOPE_PROVIDER_STUB", false),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  envInt("KWSCOPE_BREAKER_FAILURE_THRESHOLD", 5),
			FailureWindow:     envDuration("KWSCOPE_BREAKER_FAILURE_WINDOW", time.Minute),
			ResetTimeout:      envDuration("KWSCOPE_BREAKER_RESET_TIMEOUT", time.Minute),
			SuccessThreshold:  envInt("KWSCOPE_BREAKER_SUCCESS_THRESHOLD", 2),
			MaxHalfOpenProbes: envInt("KWSCOPE_BREAKER_MAX_HALF_OPEN_PROBES", 0),
		},
		Cache: CacheConfig{
			TTL:         envDuration("KWSCOPE_CACHE_TTL", time.Hour),
			PrivacyMode: envBool("KWSCOPE_CACHE_PRIVACY_MODE", false),
		},
		Limits: LimitsConfig{
			Research: models.Policy{
				Name:     "keyword-research",
				Limit:    envInt("KWSCOPE_RESEARCH_LIMIT", 100),
				Window:   envDuration("KWSCOPE_RESEARCH_WINDOW", time.Hour),
				Enabled:  envBool("KWSCOPE_RESEARCH_LIMIT_ENABLED", true),
				FailSafe: models.ParseFailSafe(envString("KWSCOPE_RESEARCH_FAILSAFE", "closed")),
			},
			Burst: models.Policy{
				Name:     "api-burst",
				Limit:    envInt("KWSCOPE_BURST_LIMIT", 30),
				Window:   envDuration("KWSCOPE_BURST_WINDOW", time.Minute),
				Enabled:  envBool("KWSCOPE_BURST_LIMIT_ENABLED", true),
				FailSafe: models.ParseFailSafe(envString("KWSCOPE_BURST_FAILSAFE", "open")),
			},
			GlobalRPS:   envFloat("KWSCOPE_GLOBAL_RPS", 0),
			GlobalBurst: envInt("KWSCOPE_GLOBAL_BURST", 50),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
