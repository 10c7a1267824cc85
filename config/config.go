package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP server
	Server ServerConfig `mapstructure:"server"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Publication queue
	Queue QueueConfig `mapstructure:"queue"`

	// Rate limits
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`

	// Pagination cursors
	Cursor CursorConfig `mapstructure:"cursor"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PostgresConfig holds connection and pool settings. LockTimeout bounds how
// long a publish waits for its category lock.
type PostgresConfig struct {
	Host              string        `mapstructure:"host"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	Port              int           `mapstructure:"port"`
	SSLMode           string        `mapstructure:"sslmode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
	Disabled    bool   `mapstructure:"disabled"`
}

type PrometheusConfig struct {
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// CategoryConfig describes one capacity pool.
type CategoryConfig struct {
	Name             string        `mapstructure:"name"`
	Capacity         int           `mapstructure:"capacity"`
	VisibilityWindow time.Duration `mapstructure:"visibility_window"`
}

type QueueConfig struct {
	Categories       []CategoryConfig `mapstructure:"categories"`
	SweepInterval    time.Duration    `mapstructure:"sweep_interval"`
	ReadSweepRate    float64          `mapstructure:"read_sweep_rate"`
	ReadSweepTimeout time.Duration    `mapstructure:"read_sweep_timeout"`
	PromoteTimeout   time.Duration    `mapstructure:"promote_timeout"`
	DuplicateGuard   uint             `mapstructure:"duplicate_guard_size"`
}

// RateRule is one quota. CalendarDay switches the window to calendar days
// in Timezone; otherwise Window is a fixed duration aligned to the epoch.
type RateRule struct {
	Limit       int           `mapstructure:"limit"`
	Window      time.Duration `mapstructure:"window"`
	CalendarDay bool          `mapstructure:"calendar_day"`
	Timezone    string        `mapstructure:"timezone"`
}

type RateLimitConfig struct {
	KeyPrefix string   `mapstructure:"key_prefix"`
	Submit    RateRule `mapstructure:"submit"`
	Read      RateRule `mapstructure:"read"`
	Write     RateRule `mapstructure:"write"`
}

type CursorConfig struct {
	Secret string `mapstructure:"secret"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the queue cannot run with.
func (c *Config) Validate() error {
	if c.Postgres.MinConns < 0 || c.Postgres.MaxConns < 0 {
		return fmt.Errorf("config: postgres pool sizes must not be negative")
	}
	if c.Postgres.MaxConns > 0 && c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("config: postgres.min_conns %d exceeds max_conns %d", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	for name, d := range map[string]time.Duration{
		"max_conn_lifetime":   c.Postgres.MaxConnLifetime,
		"max_conn_idle_time":  c.Postgres.MaxConnIdleTime,
		"health_check_period": c.Postgres.HealthCheckPeriod,
		"lock_timeout":        c.Postgres.LockTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("config: postgres.%s must not be negative", name)
		}
	}
	if len(c.Queue.Categories) == 0 {
		return fmt.Errorf("config: queue.categories must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Queue.Categories))
	for _, cat := range c.Queue.Categories {
		if cat.Name == "" {
			return fmt.Errorf("config: queue category without a name")
		}
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("config: duplicate queue category %q", cat.Name)
		}
		seen[cat.Name] = struct{}{}
		if cat.Capacity <= 0 {
			return fmt.Errorf("config: category %q capacity must be positive", cat.Name)
		}
		if cat.VisibilityWindow <= 0 {
			return fmt.Errorf("config: category %q visibility_window must be positive", cat.Name)
		}
	}
	for name, rule := range map[string]RateRule{
		"submit": c.RateLimit.Submit,
		"read":   c.RateLimit.Read,
		"write":  c.RateLimit.Write,
	} {
		if rule.Limit <= 0 {
			return fmt.Errorf("config: ratelimit.%s.limit must be positive", name)
		}
		if !rule.CalendarDay && rule.Window <= 0 {
			return fmt.Errorf("config: ratelimit.%s.window must be positive", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("postgres.max_conn_idle_time", "5m")
	v.SetDefault("postgres.health_check_period", "1m")
	v.SetDefault("postgres.lock_timeout", "5s")

	v.SetDefault("prometheus.port", 9090)
	v.SetDefault("prometheus.path", "/metrics")
	v.SetDefault("prometheus.namespace", "slotboard")

	v.SetDefault("queue.categories", []map[string]any{
		{"name": "female", "capacity": 10, "visibility_window": "48h"},
		{"name": "male", "capacity": 10, "visibility_window": "48h"},
		{"name": "priority", "capacity": 3, "visibility_window": "24h"},
	})
	v.SetDefault("queue.sweep_interval", "1m")
	v.SetDefault("queue.read_sweep_rate", 1.0)
	v.SetDefault("queue.read_sweep_timeout", "5s")
	v.SetDefault("queue.promote_timeout", "3s")
	v.SetDefault("queue.duplicate_guard_size", 100000)

	v.SetDefault("ratelimit.key_prefix", "ratelimit")
	v.SetDefault("ratelimit.submit.limit", 2)
	v.SetDefault("ratelimit.submit.calendar_day", true)
	v.SetDefault("ratelimit.submit.timezone", "UTC")
	v.SetDefault("ratelimit.read.limit", 120)
	v.SetDefault("ratelimit.read.window", "1m")
	v.SetDefault("ratelimit.write.limit", 20)
	v.SetDefault("ratelimit.write.window", "1m")
}

func bindEnvVars(v *viper.Viper) {
	// HTTP server
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")
	v.BindEnv("postgres.max_conns", "PG_MAX_CONNS")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Cursor signing
	v.BindEnv("cursor.secret", "CURSOR_SECRET")
}
