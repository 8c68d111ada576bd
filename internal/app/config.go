package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/sftpgate/internal/database"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
)

// Config represents the runtime configuration for the SFTP gateway.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	SFTP        SFTPSettings      `mapstructure:"sftp"`
	Session     SessionConfig     `mapstructure:"session"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	// SyncBaseDir enables POST /api/files/sync for local directories below it.
	SyncBaseDir   string `mapstructure:"sync_base_dir"`
	RequireTenant bool   `mapstructure:"require_tenant"`
}

// SFTPSettings describes the single upstream SFTP server.
type SFTPSettings struct {
	Host             string      `mapstructure:"host"`
	Port             int         `mapstructure:"port"`
	Username         string      `mapstructure:"username"`
	Password         string      `mapstructure:"password"`
	PrivateKeyPath   string      `mapstructure:"private_key_path"`
	Passphrase       string      `mapstructure:"passphrase"`
	ConnectTimeoutMs int         `mapstructure:"connect_timeout_ms"`
	RootDirectory    string      `mapstructure:"root_directory"`
	KnownHostsFile   string      `mapstructure:"known_hosts_file"`
	Retry            RetryConfig `mapstructure:"retry"`
}

// RetryConfig controls connection retries.
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// SessionConfig selects the session manager policy.
type SessionConfig struct {
	Policy      string `mapstructure:"policy"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

// DatabaseConfig describes connection options for the audit store.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	LogLevel string       `mapstructure:"log_level"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuditConfig controls the operation log.
type AuditConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig limits requests per client and route.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// MaintenanceConfig schedules background jobs with cron specs.
type MaintenanceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AuditSchedule string `mapstructure:"audit_schedule"`
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SFTPGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", 512<<20)
	v.SetDefault("server.sync_base_dir", "")
	v.SetDefault("server.require_tenant", false)

	v.SetDefault("sftp.host", "")
	v.SetDefault("sftp.port", 22)
	v.SetDefault("sftp.username", "")
	v.SetDefault("sftp.password", "")
	v.SetDefault("sftp.private_key_path", "")
	v.SetDefault("sftp.passphrase", "")
	v.SetDefault("sftp.connect_timeout_ms", 30000)
	v.SetDefault("sftp.root_directory", "/")
	v.SetDefault("sftp.known_hosts_file", "")
	v.SetDefault("sftp.retry.attempts", 3)
	v.SetDefault("sftp.retry.base_delay", "1s")

	v.SetDefault("session.policy", session.PolicyPooled)
	v.SetDefault("session.max_pool_size", session.DefaultMaxPoolSize)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/sftpgate.sqlite")
	v.SetDefault("database.log_level", "silent")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.prune_schedule", "@every 1m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// SFTPConfig converts the sftp section into connection settings.
func (c *Config) SFTPConfig() sftp.Config {
	s := c.SFTP
	return sftp.Config{
		Host:           s.Host,
		Port:           s.Port,
		Username:       s.Username,
		Password:       s.Password,
		PrivateKeyPath: s.PrivateKeyPath,
		Passphrase:     s.Passphrase,
		ConnectTimeout: time.Duration(s.ConnectTimeoutMs) * time.Millisecond,
		RootDirectory:  s.RootDirectory,
		KnownHostsFile: s.KnownHostsFile,
	}.WithDefaults()
}

// RetryPolicy converts sftp.retry, falling back to the default policy for unset values.
func (c *Config) RetryPolicy() sftp.RetryPolicy {
	policy := sftp.DefaultRetryPolicy()
	if c.SFTP.Retry.Attempts > 0 {
		policy.Attempts = c.SFTP.Retry.Attempts
	}
	if c.SFTP.Retry.BaseDelay > 0 {
		policy.BaseDelay = c.SFTP.Retry.BaseDelay
	}
	return policy
}

// SessionOptions converts the session section.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Policy:  strings.ToLower(strings.TrimSpace(c.Session.Policy)),
		MaxSize: c.Session.MaxPoolSize,
	}
}

// DatabaseOptions converts the database section, preferring an explicit DSN,
// then the enabled host-based driver, then the SQLite path.
func (c *Config) DatabaseOptions() database.Config {
	db := c.Database
	cfg := database.Config{
		Driver:   db.Driver,
		Path:     db.Path,
		DSN:      db.DSN,
		LogLevel: db.LogLevel,
	}

	var auth *DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(db.Driver)) {
	case "postgres", "postgresql":
		auth = &db.Postgres
	case "mysql", "mariadb":
		auth = &db.MySQL
	}
	if auth != nil && auth.Enabled {
		cfg.Host = auth.Host
		cfg.Port = auth.Port
		cfg.Name = auth.Database
		cfg.User = auth.Username
		cfg.Password = auth.Password
	}
	return cfg
}
