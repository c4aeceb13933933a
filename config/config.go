package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Log      LogConfig             `mapstructure:"log"`
	Database DatabaseConfig        `mapstructure:"database"`
	Redis    RedisConfig           `mapstructure:"redis"`
	JWT      JWTConfig             `mapstructure:"jwt"`
	Payment  PaymentConfig         `mapstructure:"payment"`
	Email    EmailConfig           `mapstructure:"email"`
	Queue    QueueConfig           `mapstructure:"queue"`
	CORS     CORSConfig            `mapstructure:"cors"`
	Plans    map[string]PlanConfig `mapstructure:"plans"`
	Settings map[string]string     `mapstructure:"settings"`
	Sweep    SweepConfig           `mapstructure:"sweep"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	Serializable bool   `mapstructure:"serializable"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type PaymentConfig struct {
	Provider         string        `mapstructure:"provider"` // stripe, stub
	StripeSecretKey  string        `mapstructure:"stripe_secret_key"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerHalfOpens uint32        `mapstructure:"breaker_half_opens"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type QueueConfig struct {
	NotificationQueue string `mapstructure:"notification_queue"`
	MaxWorkers        int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// PlanConfig 静态套餐表中的一项，金额单位为最小货币单位（分）
type PlanConfig struct {
	Name          string `mapstructure:"name"`
	Price         int64  `mapstructure:"price"`
	Currency      string `mapstructure:"currency"`
	BillingCycle  string `mapstructure:"billing_cycle"` // monthly, yearly
	MaxRefundable int64  `mapstructure:"max_refundable"`
	ProcessorID   string `mapstructure:"processor_price_id"`
}

type SweepConfig struct {
	Schedule string `mapstructure:"schedule"` // cron 表达式
}

func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	// 优先读取 config.local.yaml（包含真实密钥，不提交到 git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("payment.provider", "stub")
	v.SetDefault("payment.breaker_timeout", 30*time.Second)
	v.SetDefault("payment.breaker_failures", 5)
	v.SetDefault("payment.breaker_half_opens", 1)
	v.SetDefault("queue.notification_queue", "subscription_notifications")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("sweep.schedule", "@every 15m")
}
