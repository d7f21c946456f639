package config

import (
	"fmt"
	"strings"

	"github.com/stockpilot/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Stock     StockConfig     `mapstructure:"stock"`
	Order     OrderConfig     `mapstructure:"order"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig 运维接口 JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
	LocalBuffer int            `mapstructure:"local_buffer"` // 队列不可用时进程内通知缓冲
}

// StockConfig 库存预占配置
type StockConfig struct {
	LockTTLMinutes    int `mapstructure:"lock_ttl_minutes"`
	CounterTTLHours   int `mapstructure:"counter_ttl_hours"`
	ReconcileParallel int `mapstructure:"reconcile_parallel"`
	SweepBatchLimit   int `mapstructure:"sweep_batch_limit"`
	ReplaySettleSecs  int `mapstructure:"replay_settle_seconds"` // 未同步流水超过该时长才由补偿任务重放
}

// OrderConfig 订单配置
type OrderConfig struct {
	PaymentExpireMinutes int `mapstructure:"payment_expire_minutes"`
	UnpaidGraceMinutes   int `mapstructure:"unpaid_grace_minutes"`
}

// ReconcileConfig 对账补偿任务调度（cron 表达式）
type ReconcileConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	CleanExpiredLocks    string `mapstructure:"clean_expired_locks"`
	UnpaidOrders         string `mapstructure:"unpaid_orders"`
	PaidUndeductedOrders string `mapstructure:"paid_undeducted_orders"`
	UnsyncedLogs         string `mapstructure:"unsynced_logs"`
	FullSync             string `mapstructure:"full_sync"`
	TimeoutOrders        string `mapstructure:"timeout_orders"`
	ConsistencyCheck     string `mapstructure:"consistency_check"`
}

// KafkaConfig 库存变动事件流配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Buffer  int      `mapstructure:"buffer"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	OrderRateLimit RateLimitConfig `mapstructure:"order_rate_limit"`
}

// RateLimitConfig 下单限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// SetDefaults 写入全部默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "stockpilot.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/stockpilot.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sp")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
	})
	v.SetDefault("queue.local_buffer", 1024)
	v.SetDefault("stock.lock_ttl_minutes", 30)
	v.SetDefault("stock.counter_ttl_hours", 24)
	v.SetDefault("stock.reconcile_parallel", 4)
	v.SetDefault("stock.sweep_batch_limit", 200)
	v.SetDefault("stock.replay_settle_seconds", 60)
	v.SetDefault("order.payment_expire_minutes", 15)
	v.SetDefault("order.unpaid_grace_minutes", 30)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.clean_expired_locks", "@every 5m")
	v.SetDefault("reconcile.unpaid_orders", "@every 15m")
	v.SetDefault("reconcile.paid_undeducted_orders", "@every 20m")
	v.SetDefault("reconcile.unsynced_logs", "@every 5m")
	v.SetDefault("reconcile.full_sync", "0 2 * * *")
	v.SetDefault("reconcile.timeout_orders", "@every 10m")
	v.SetDefault("reconcile.consistency_check", "@every 1h")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "stock.changed")
	v.SetDefault("kafka.buffer", 1024)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.order_rate_limit.window_seconds", 60)
	v.SetDefault("security.order_rate_limit.max_requests", 30)
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹

	SetDefaults(v)

	// 环境变量支持（server.port -> SERVER_PORT）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 将 viper 实例解析为 Config 并补齐非法值
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Stock.LockTTLMinutes <= 0 {
		c.Stock.LockTTLMinutes = 30
	}
	if c.Stock.CounterTTLHours < 0 {
		c.Stock.CounterTTLHours = 0
	}
	if c.Stock.ReconcileParallel <= 0 {
		c.Stock.ReconcileParallel = 1
	}
	if c.Stock.SweepBatchLimit <= 0 {
		c.Stock.SweepBatchLimit = 200
	}
	if c.Stock.ReplaySettleSecs < 0 {
		c.Stock.ReplaySettleSecs = 0
	}
	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 24
	}
	if c.Order.PaymentExpireMinutes <= 0 {
		c.Order.PaymentExpireMinutes = 15
	}
	if c.Order.UnpaidGraceMinutes <= 0 {
		c.Order.UnpaidGraceMinutes = 30
	}
	if strings.TrimSpace(c.Kafka.Topic) == "" {
		c.Kafka.Topic = "stock.changed"
	}
	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = "/metrics"
	}
}
