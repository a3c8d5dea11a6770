package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	AdminBootstrap AdminBootstrapConfig
	Routing        RoutingConfig
	Breaker        BreakerConfig
	Email          EmailConfig
	Jobs           JobsConfig
	Retention      RetentionConfig
	Tracing        TracingConfig
	Logging        LoggingConfig
	Environment    string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
	JWTIssuer string
}

type RateLimitConfig struct {
	PublicPerMinute   int
	PartnerPerMinute  int
	AdminPerMinute    int
	TrustedProxyCIDRs []string
}

// CORSConfig controls browser cross-origin access. AllowAllOrigins is
// only honored outside production.
type CORSConfig struct {
	AllowAllOrigins bool
	AllowedOrigins  []string
}

type AdminBootstrapConfig struct {
	Username string
	Password string
	Email    string
}

// RoutingConfig controls lead-to-agent assignment.
// Weights must sum to 1.0; Validate enforces a small tolerance.
type RoutingConfig struct {
	Strategy             string
	SpecializationWeight float64
	LocationWeight       float64
	PerformanceWeight    float64
	WorkloadWeight       float64
	TierWeight           float64
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	HalfOpenProbes   int
	RequestTimeout   time.Duration
}

type EmailConfig struct {
	Enabled        bool
	From           string
	ResendAPIKey   string
	ConsoleBaseURL string
}

type JobsConfig struct {
	RetryAssignment int
	RetryAutomation int
	RetryEmail      int
}

type RetentionConfig struct {
	LeadMaxAgeDays        int
	IdempotencyMaxAgeDays int
}

// TracingConfig controls OpenTelemetry span export. Exporter is one of
// "stdout" or "none".
type TracingConfig struct {
	Enabled     bool
	Exporter    string
	ServiceName string
	SampleRate  float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTExpiry: time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
			JWTIssuer: getEnv("JWT_ISSUER", "coverline"),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:   getEnvInt("RATE_LIMIT_PUBLIC", 60),
			PartnerPerMinute:  getEnvInt("RATE_LIMIT_PARTNER", 300),
			AdminPerMinute:    getEnvInt("RATE_LIMIT_ADMIN", 0),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		CORS: CORSConfig{
			AllowAllOrigins: getEnvBool("CORS_ALLOW_ALL_ORIGINS", false),
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		AdminBootstrap: AdminBootstrapConfig{
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Email:    getEnv("ADMIN_EMAIL", ""),
		},
		Routing: RoutingConfig{
			Strategy:             getEnv("ROUTING_STRATEGY", "top_score"),
			SpecializationWeight: getEnvFloat("ROUTING_WEIGHT_SPECIALIZATION", 0.30),
			LocationWeight:       getEnvFloat("ROUTING_WEIGHT_LOCATION", 0.20),
			PerformanceWeight:    getEnvFloat("ROUTING_WEIGHT_PERFORMANCE", 0.25),
			WorkloadWeight:       getEnvFloat("ROUTING_WEIGHT_WORKLOAD", 0.15),
			TierWeight:           getEnvFloat("ROUTING_WEIGHT_TIER", 0.10),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			Cooldown:         time.Duration(getEnvInt("BREAKER_COOLDOWN_SECONDS", 30)) * time.Second,
			HalfOpenProbes:   getEnvInt("BREAKER_HALF_OPEN_PROBES", 1),
			RequestTimeout:   time.Duration(getEnvInt("BREAKER_REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Email: EmailConfig{
			Enabled:        getEnvBool("EMAIL_ENABLED", false),
			From:           getEnv("EMAIL_FROM", "notifications@coverline.io"),
			ResendAPIKey:   getEnv("RESEND_API_KEY", ""),
			ConsoleBaseURL: getEnv("CONSOLE_BASE_URL", "https://app.coverline.io"),
		},
		Jobs: JobsConfig{
			RetryAssignment: getEnvInt("JOB_RETRY_ASSIGNMENT", 3),
			RetryAutomation: getEnvInt("JOB_RETRY_AUTOMATION", 5),
			RetryEmail:      getEnvInt("JOB_RETRY_EMAIL", 5),
		},
		Retention: RetentionConfig{
			LeadMaxAgeDays:        getEnvInt("RETENTION_LEAD_MAX_AGE_DAYS", 730),
			IdempotencyMaxAgeDays: getEnvInt("RETENTION_IDEMPOTENCY_MAX_AGE_DAYS", 1),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Exporter:    getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "coverline-server"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Email.Enabled && cfg.Email.ResendAPIKey == "" {
		return Config{}, fmt.Errorf("RESEND_API_KEY is required when EMAIL_ENABLED=true")
	}
	if err := cfg.Routing.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks strategy membership and that weights sum to 1.0.
func (r RoutingConfig) Validate() error {
	switch r.Strategy {
	case "top_score", "round_robin", "least_loaded":
	default:
		return fmt.Errorf("ROUTING_STRATEGY must be one of top_score, round_robin, least_loaded")
	}
	sum := r.SpecializationWeight + r.LocationWeight + r.PerformanceWeight + r.WorkloadWeight + r.TierWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("routing weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1" || value == "yes"
}
