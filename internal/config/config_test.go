package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8001, cfg.Port)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	require.Equal(t, 60*time.Second, cfg.ComponentCheckInterval)
	require.Equal(t, int64(100), cfg.BackupThreshold)
	require.InDelta(t, 10.0, cfg.ErrorThreshold, 0.001)
	require.Equal(t, 5*time.Minute, cfg.AlarmCooldownPeriod)
	require.Equal(t, 5, cfg.ConsecutiveFailuresThreshold)
	require.True(t, cfg.CriticalAlarmShutdown)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 60*time.Second, cfg.DefaultRetryDelay)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.AdminEnabled())
}

func Test_Load_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9100")
	t.Setenv("BROKER_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("ALERT_EMAILS", "ops@example.com,oncall@example.com")
	t.Setenv("CRITICAL_ALARM_SHUTDOWN", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProd())
	require.Equal(t, "0.0.0.0:9100", cfg.Addr())
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.BrokerBrokers)
	require.Len(t, cfg.AlertEmails, 2)
	require.False(t, cfg.CriticalAlarmShutdown)
}

func Test_AdminEnabled(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD_HASH", "argon2id$3$65536$2$c2FsdA$aGFzaA")
	t.Setenv("ADMIN_SESSION_SECRET", "abcd")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.AdminEnabled())
}
