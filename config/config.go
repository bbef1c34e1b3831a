// Package config 从环境变量加载 policykit 配置
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend 号码池存储后端
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQL    Backend = "sql"
	BackendRedis  Backend = "redis"
)

// Config 顶层配置
type Config struct {
	ServiceName string  `env:"POLICYKIT_SERVICE_NAME" envDefault:"policykit"`
	LogMode     string  `env:"POLICYKIT_LOG_MODE"     envDefault:"dev"`
	LogLevel    string  `env:"POLICYKIT_LOG_LEVEL"    envDefault:"info"`
	Backend     Backend `env:"POLICYKIT_BACKEND"      envDefault:"memory"`
	// MetricsAddr 为空时不暴露 /metrics
	MetricsAddr string `env:"POLICYKIT_METRICS_ADDR"`

	Pool     PoolConfig     `envPrefix:"POLICYKIT_POOL_"`
	Database DatabaseConfig `envPrefix:"POLICYKIT_DB_"`
	Redis    RedisConfig    `envPrefix:"POLICYKIT_REDIS_"`
	NATS     NATSConfig     `envPrefix:"POLICYKIT_NATS_"`
}

// PoolConfig 号码池行为
type PoolConfig struct {
	// ReservationTTL 预留有效期，0 表示不回收过期预留
	ReservationTTL time.Duration `env:"RESERVATION_TTL" envDefault:"15m"`
	AddMaxAttempts int           `env:"ADD_MAX_ATTEMPTS" envDefault:"3"`
	AddRetryDelay  time.Duration `env:"ADD_RETRY_DELAY"  envDefault:"50ms"`
	// ReapInterval 过期预留回收周期
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
	// LedgerCacheSize 台账查询缓存条目数，0 表示关闭
	LedgerCacheSize int           `env:"LEDGER_CACHE_SIZE" envDefault:"10000"`
	LedgerCacheTTL  time.Duration `env:"LEDGER_CACHE_TTL"  envDefault:"1h"`
}

// DatabaseConfig SQL 后端
type DatabaseConfig struct {
	Driver          string        `env:"DRIVER"            envDefault:"sqlite"`
	DSN             string        `env:"DSN"               envDefault:"file:policykit.db?_pragma=busy_timeout(5000)&_txlock=immediate"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	Migrate         bool          `env:"MIGRATE"           envDefault:"true"`
}

// RedisConfig Redis 后端
type RedisConfig struct {
	Addr      string `env:"ADDR"       envDefault:"localhost:6379"`
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"         envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"numberpool:"`
}

// NATSConfig 事件转发；URL 为空时不启用
type NATSConfig struct {
	URL           string `env:"URL"`
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"policykit.events"`
	JetStream     bool   `env:"JETSTREAM"      envDefault:"false"`
}

// ParseEnv 从环境变量加载配置并校验
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验配置组合
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("config: POLICYKIT_DB_DSN is required for the sql backend")
		}
		switch c.Database.Driver {
		case "sqlite", "pgx":
		default:
			return fmt.Errorf("config: unsupported database driver %q (want sqlite or pgx)", c.Database.Driver)
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: POLICYKIT_REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Pool.ReservationTTL < 0 {
		return fmt.Errorf("config: reservation ttl must not be negative")
	}
	if c.Pool.ReservationTTL > 0 && c.Pool.ReapInterval <= 0 {
		return fmt.Errorf("config: reap interval must be positive when a reservation ttl is set")
	}
	if c.Pool.LedgerCacheSize < 0 {
		return fmt.Errorf("config: ledger cache size must not be negative")
	}
	if c.Pool.AddMaxAttempts < 1 {
		return fmt.Errorf("config: add max attempts must be at least 1")
	}
	return nil
}
