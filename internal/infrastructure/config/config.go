package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Platform  PlatformConfig
	Export    ExportConfig
	Sync      SyncConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// PlatformConfig holds the commerce platform API connection settings
type PlatformConfig struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	Scope           string
	TokenPath       string
	ExportPath      string
	JobStatusPath   string
	ApplicationName string // sent as X-Application-Name
	TimeoutSeconds  int
}

// ExportConfig holds export job polling and retry settings
type ExportConfig struct {
	InitialPollDelay time.Duration
	MaxPollDelay     time.Duration
	MaxPolls         int
	CompletedStatus  string
	FailedStatuses   []string
	MaxAuthAttempts  int
	BasicRetries     int
}

// SyncConfig holds catalog sync scheduling settings
type SyncConfig struct {
	Enabled        bool
	Channels       []string      // channel keys synced on every cycle
	Interval       time.Duration // time between sync cycles
	FullSyncEvery  int           // every Nth cycle ignores the stored delta date; 0 = never
	WorkerCount    int
	QueueSize      int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	LockTTL        time.Duration // channel lock lifetime; should exceed JobTimeout
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	// EventStream receives catalog events via XADD; empty disables forwarding
	EventStream string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig holds S3-compatible object storage settings for republished feeds
type StorageConfig struct {
	Enabled         bool
	Endpoint        string // empty = AWS default endpoint
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeyPrefix       string
	CreateBucket    bool
}

// DatabaseConfig holds database connection settings for sync run history
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string // empty = migrations embedded in the binary
	AutoMigrate     bool
	LogLevel        string
	SlowThreshold   time.Duration
}

// HTTPConfig holds operations HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool    // traces
	CollectorEndpoint string  // OTEL Collector gRPC endpoint, e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool // plaintext gRPC (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	ProfilingEnabled  bool
	ProfilingServer   string // Pyroscope server address
}

// envPrefix is the prefix of environment overrides, e.g. CATALOG_PLATFORM_CLIENT_SECRET
const envPrefix = "CATALOG"

// Load loads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with CATALOG_ prefix
// 2. configFile, or config.toml found in the search paths when configFile is empty
// 3. Built-in defaults
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalogsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Platform: PlatformConfig{
			BaseURL:         v.GetString("platform.base_url"),
			ClientID:        v.GetString("platform.client_id"),
			ClientSecret:    v.GetString("platform.client_secret"),
			Scope:           v.GetString("platform.scope"),
			TokenPath:       v.GetString("platform.token_path"),
			ExportPath:      v.GetString("platform.export_path"),
			JobStatusPath:   v.GetString("platform.job_status_path"),
			ApplicationName: v.GetString("platform.application_name"),
			TimeoutSeconds:  v.GetInt("platform.timeout_seconds"),
		},
		Export: ExportConfig{
			InitialPollDelay: v.GetDuration("export.initial_poll_delay"),
			MaxPollDelay:     v.GetDuration("export.max_poll_delay"),
			MaxPolls:         v.GetInt("export.max_polls"),
			CompletedStatus:  v.GetString("export.completed_status"),
			FailedStatuses:   v.GetStringSlice("export.failed_statuses"),
			MaxAuthAttempts:  v.GetInt("export.max_auth_attempts"),
			BasicRetries:     v.GetInt("export.basic_retries"),
		},
		Sync: SyncConfig{
			Enabled:        v.GetBool("sync.enabled"),
			Channels:       v.GetStringSlice("sync.channels"),
			Interval:       v.GetDuration("sync.interval"),
			FullSyncEvery:  v.GetInt("sync.full_sync_every"),
			WorkerCount:    v.GetInt("sync.worker_count"),
			QueueSize:      v.GetInt("sync.queue_size"),
			JobTimeout:     v.GetDuration("sync.job_timeout"),
			MaxRetries:     v.GetInt("sync.max_retries"),
			RetryBaseDelay: v.GetDuration("sync.retry_base_delay"),
			LockTTL:        v.GetDuration("sync.lock_ttl"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),

			EventStream: v.GetString("redis.event_stream"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			KeyPrefix:       v.GetString("storage.key_prefix"),
			CreateBucket:    v.GetBool("storage.create_bucket"),
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("database.enabled"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrationsPath:  v.GetString("database.migrations_path"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "catalogsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Platform.TokenPath == "" {
		cfg.Platform.TokenPath = "/connect/token"
	}
	if cfg.Platform.ExportPath == "" {
		cfg.Platform.ExportPath = "/exports/product"
	}
	if cfg.Platform.JobStatusPath == "" {
		cfg.Platform.JobStatusPath = "/jobs/job"
	}
	if cfg.Platform.ApplicationName == "" {
		cfg.Platform.ApplicationName = cfg.App.Name
	}
	if cfg.Platform.TimeoutSeconds == 0 {
		cfg.Platform.TimeoutSeconds = 30
	}

	if cfg.Export.InitialPollDelay == 0 {
		cfg.Export.InitialPollDelay = 4 * time.Second
	}
	if cfg.Export.MaxPollDelay == 0 {
		cfg.Export.MaxPollDelay = 600 * time.Second
	}
	if cfg.Export.MaxPolls == 0 {
		cfg.Export.MaxPolls = 30
	}
	if cfg.Export.CompletedStatus == "" {
		cfg.Export.CompletedStatus = "completed"
	}
	if len(cfg.Export.FailedStatuses) == 0 {
		cfg.Export.FailedStatuses = []string{"failed", "cancelled"}
	}
	if cfg.Export.MaxAuthAttempts == 0 {
		cfg.Export.MaxAuthAttempts = 3
	}
	if cfg.Export.BasicRetries == 0 {
		cfg.Export.BasicRetries = 1
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 6 * time.Hour
	}
	if cfg.Sync.WorkerCount == 0 {
		cfg.Sync.WorkerCount = 2
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 100
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 2 * time.Hour
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = 5 * time.Minute
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = cfg.Sync.JobTimeout + 10*time.Minute
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "catalogsync:"
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "feeds"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "catalogsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Sync.Enabled {
		if c.Platform.BaseURL == "" {
			return fmt.Errorf("platform.base_url is required when sync is enabled")
		}
		if c.Platform.ClientID == "" || c.Platform.ClientSecret == "" {
			return fmt.Errorf("platform.client_id and platform.client_secret are required when sync is enabled")
		}
		if len(c.Sync.Channels) == 0 {
			return fmt.Errorf("sync.channels must list at least one channel when sync is enabled")
		}
	}
	if c.Platform.BaseURL != "" {
		u, err := url.Parse(c.Platform.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("platform.base_url must be an absolute URL, got %q", c.Platform.BaseURL)
		}
	}

	if c.Export.MaxPollDelay < c.Export.InitialPollDelay {
		return fmt.Errorf("export.max_poll_delay (%s) cannot be less than export.initial_poll_delay (%s)",
			c.Export.MaxPollDelay, c.Export.InitialPollDelay)
	}
	if c.Export.MaxPolls < 0 || c.Export.MaxAuthAttempts < 0 || c.Export.BasicRetries < 0 {
		return fmt.Errorf("export retry budgets cannot be negative")
	}
	if c.Sync.WorkerCount < 0 || c.Sync.QueueSize < 0 {
		return fmt.Errorf("sync.worker_count and sync.queue_size cannot be negative")
	}
	if c.Sync.LockTTL < c.Sync.JobTimeout {
		return fmt.Errorf("sync.lock_ttl (%s) must not be shorter than sync.job_timeout (%s)", c.Sync.LockTTL, c.Sync.JobTimeout)
	}

	if c.Storage.Enabled {
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage is enabled")
		}
		if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
			return fmt.Errorf("storage.access_key_id and storage.secret_access_key are required when storage is enabled")
		}
	}

	if c.Database.Enabled {
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
				c.Database.MaxIdleConns, c.Database.MaxOpenConns)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Enabled && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Enabled && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.Insecure {
			return fmt.Errorf("telemetry.insecure must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServer == "" {
		return fmt.Errorf("telemetry.profiling_server is required when profiling is enabled")
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
