package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sftpgate/internal/session"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "/srv/outbox", cfg.Server.SyncBaseDir)
	require.True(t, cfg.Server.RequireTenant)
	require.EqualValues(t, 512<<20, cfg.Server.MaxUploadBytes)

	sftpCfg := cfg.SFTPConfig()
	require.Equal(t, "sftp.example.com", sftpCfg.Host)
	require.Equal(t, 2222, sftpCfg.Port)
	require.Equal(t, "transfer", sftpCfg.Username)
	require.True(t, sftpCfg.UsesPrivateKey())
	require.Equal(t, 5*time.Second, sftpCfg.ConnectTimeout)
	require.Equal(t, "/tenants/{tenantId}", sftpCfg.RootDirectory)
	require.NoError(t, sftpCfg.Validate())

	policy := cfg.RetryPolicy()
	require.Equal(t, 5, policy.Attempts)
	require.Equal(t, 250*time.Millisecond, policy.BaseDelay)

	opts := cfg.SessionOptions()
	require.Equal(t, session.PolicySingle, opts.Policy)
	require.Equal(t, session.DefaultMaxPoolSize, opts.MaxSize)

	db := cfg.DatabaseOptions()
	require.Equal(t, "postgres", db.Driver)
	require.Equal(t, "db.example.com", db.Host)
	require.Equal(t, "sftpgate", db.Name)
	require.Equal(t, "gateway", db.User)

	require.Equal(t, 30, cfg.Audit.RetentionDays)
	require.True(t, cfg.Audit.Enabled)

	redis := cfg.Cache.RedisClientConfig()
	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", redis.Address)
	require.Equal(t, 2, redis.DB)
	require.Equal(t, 2*time.Second, redis.Timeout)

	require.Equal(t, 20, cfg.RateLimit.Requests)
	require.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	require.Equal(t, "@daily", cfg.Maintenance.AuditSchedule)
	require.Equal(t, "@every 30s", cfg.Maintenance.PruneSchedule)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)

	sftpCfg := cfg.SFTPConfig()
	require.Equal(t, 22, sftpCfg.Port)
	require.Equal(t, 30*time.Second, sftpCfg.ConnectTimeout)
	require.Equal(t, "/", sftpCfg.RootDirectory)
	require.Error(t, sftpCfg.Validate(), "host and credentials have no defaults")

	require.Equal(t, 3, cfg.RetryPolicy().Attempts)
	require.Equal(t, time.Second, cfg.RetryPolicy().BaseDelay)
	require.Equal(t, session.PolicyPooled, cfg.SessionOptions().Policy)
	require.Equal(t, 5, cfg.SessionOptions().MaxSize)

	db := cfg.DatabaseOptions()
	require.Equal(t, "sqlite", db.Driver)
	require.Equal(t, "./data/sftpgate.sqlite", db.Path)
	require.Empty(t, db.Host)

	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 100, cfg.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, "@every 1m", cfg.Maintenance.PruneSchedule)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SFTPGATE_SFTP_HOST", "env.example.com")
	t.Setenv("SFTPGATE_SFTP_PASSWORD", "from-env")
	t.Setenv("SFTPGATE_SESSION_MAX_POOL_SIZE", "9")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "env.example.com", cfg.SFTP.Host)
	require.Equal(t, "from-env", cfg.SFTP.Password)
	require.Equal(t, 9, cfg.SessionOptions().MaxSize)
}
