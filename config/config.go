package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	BlobStore     BlobStoreConfig     `yaml:"blob_store"`
	RetryQueue    RetryQueueConfig    `yaml:"retry_queue"`
	IdentityCache IdentityCacheConfig `yaml:"identity_cache"`
	Push          PushConfig          `yaml:"push"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds the local HTTP API configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ScanDebounceMS  int      `yaml:"scan_debounce_ms"`

	ScanDebounce time.Duration `yaml:"-"`
}

// APIConfig describes the remote attendance API.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	DeviceAPIKey   string `yaml:"device_api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	HTTPProxy      string `yaml:"http_proxy"`

	Timeout time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// BlobStoreConfig selects where the identity cache container is persisted.
type BlobStoreConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	Namespace string `yaml:"namespace"`
}

// RetryQueueConfig tunes the offline retry queue.
type RetryQueueConfig struct {
	MaxSize         int `yaml:"max_size"`
	MaxRetries      int `yaml:"max_retries"`
	ReplayDelayMS   int `yaml:"replay_delay_ms"`
	AutoSyncSeconds int `yaml:"auto_sync_seconds"`

	ReplayDelay      time.Duration `yaml:"-"`
	AutoSyncInterval time.Duration `yaml:"-"`
}

// IdentityCacheConfig tunes the persisted tag to identity cache.
type IdentityCacheConfig struct {
	MaxAgeHours int    `yaml:"max_age_hours"`
	Timezone    string `yaml:"timezone"`

	MaxAge   time.Duration  `yaml:"-"`
	Location *time.Location `yaml:"-"`
}

// PushConfig holds the VAPID keys for operator web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Secrets can be kept out of the yaml file. A set variable wins over the file.
var envOverrides = map[string]func(*Config) *string{
	"KIOSK_API_BASE_URL":      func(c *Config) *string { return &c.API.BaseURL },
	"KIOSK_DEVICE_API_KEY":    func(c *Config) *string { return &c.API.DeviceAPIKey },
	"KIOSK_DATABASE_DSN":      func(c *Config) *string { return &c.Database.DSN },
	"KIOSK_REDIS_ADDR":        func(c *Config) *string { return &c.BlobStore.RedisAddr },
	"KIOSK_VAPID_PUBLIC_KEY":  func(c *Config) *string { return &c.Push.PublicKey },
	"KIOSK_VAPID_PRIVATE_KEY": func(c *Config) *string { return &c.Push.PrivateKey },
}

func (cfg *Config) applyEnv() {
	for name, field := range envOverrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field(cfg) = v
		}
	}
}

// ApplyDefaults fills unset values and derives the duration fields.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 20
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 10
	}
	if cfg.Server.ScanDebounceMS <= 0 {
		cfg.Server.ScanDebounceMS = 2000
	}
	cfg.Server.ScanDebounce = time.Duration(cfg.Server.ScanDebounceMS) * time.Millisecond

	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 10
	}
	cfg.API.Timeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "kiosk.db"
	}

	if cfg.BlobStore.Backend == "" {
		cfg.BlobStore.Backend = "gorm"
	}
	if cfg.BlobStore.Backend != "gorm" && cfg.BlobStore.Backend != "redis" {
		return fmt.Errorf("unsupported blob_store backend %q", cfg.BlobStore.Backend)
	}
	if cfg.BlobStore.Namespace == "" {
		cfg.BlobStore.Namespace = "kiosk"
	}

	if cfg.RetryQueue.MaxSize <= 0 {
		cfg.RetryQueue.MaxSize = 100
	}
	if cfg.RetryQueue.MaxRetries <= 0 {
		cfg.RetryQueue.MaxRetries = 3
	}
	if cfg.RetryQueue.ReplayDelayMS <= 0 {
		cfg.RetryQueue.ReplayDelayMS = 100
	}
	if cfg.RetryQueue.AutoSyncSeconds <= 0 {
		cfg.RetryQueue.AutoSyncSeconds = 30
	}
	cfg.RetryQueue.ReplayDelay = time.Duration(cfg.RetryQueue.ReplayDelayMS) * time.Millisecond
	cfg.RetryQueue.AutoSyncInterval = time.Duration(cfg.RetryQueue.AutoSyncSeconds) * time.Second

	if cfg.IdentityCache.MaxAgeHours <= 0 {
		cfg.IdentityCache.MaxAgeHours = 24
	}
	cfg.IdentityCache.MaxAge = time.Duration(cfg.IdentityCache.MaxAgeHours) * time.Hour
	cfg.IdentityCache.Location = time.Local
	if cfg.IdentityCache.Timezone != "" {
		loc, err := time.LoadLocation(cfg.IdentityCache.Timezone)
		if err != nil {
			return fmt.Errorf("failed to load timezone %q: %w", cfg.IdentityCache.Timezone, err)
		}
		cfg.IdentityCache.Location = loc
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return nil
}
