package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/coverline")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/coverline")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	require.Equal(t, "top_score", cfg.Routing.Strategy)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
	require.False(t, cfg.Email.Enabled)
	require.Equal(t, "development", cfg.Environment)
}

func TestLoadEmailEnabledRequiresAPIKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/coverline")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("RESEND_API_KEY", "")

	_, err := Load()
	require.ErrorContains(t, err, "RESEND_API_KEY")
}

func TestRoutingConfigValidate(t *testing.T) {
	valid := RoutingConfig{
		Strategy:             "least_loaded",
		SpecializationWeight: 0.30,
		LocationWeight:       0.20,
		PerformanceWeight:    0.25,
		WorkloadWeight:       0.15,
		TierWeight:           0.10,
	}
	require.NoError(t, valid.Validate())

	badStrategy := valid
	badStrategy.Strategy = "random"
	require.Error(t, badStrategy.Validate())

	badWeights := valid
	badWeights.TierWeight = 0.5
	require.ErrorContains(t, badWeights.Validate(), "sum to 1.0")
}

func TestNewLoggerLevelAndDurations(t *testing.T) {
	logger := NewLogger(LoggingConfig{Level: "warn"})
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	require.Equal(t, time.Millisecond, zerolog.DurationFieldUnit)

	logger = NewLogger(LoggingConfig{Level: "not-a-level"})
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
