package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix SAVINGS_SERVER_PORT 覆盖 server.port
const EnvPrefix = "SAVINGS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Savings  SavingsConfig  `mapstructure:"savings"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"` // debug / release / test
	WorkerID int64  `mapstructure:"worker_id"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory / mysql
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	GoalEvents   string `mapstructure:"goal_events"`
	LedgerEvents string `mapstructure:"ledger_events"`
}

// OutboxTopics 写入 outbox 时使用的 topic。Kafka 未启用时没有 OutboxSender 消费，
// 返回空 topic，不再写 outbox。
func (c KafkaConfig) OutboxTopics() KafkaTopicConfig {
	if !c.Enabled {
		return KafkaTopicConfig{}
	}
	return c.Topic
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// SavingsConfig Token/Admin 非空时启动即初始化（已初始化则跳过）
type SavingsConfig struct {
	CustodyAccount   string `mapstructure:"custody_account"`
	Token            string `mapstructure:"token"`
	Admin            string `mapstructure:"admin"`
	EmergencyPenalty uint32 `mapstructure:"emergency_penalty"`
}

type BusinessConfig struct {
	MaxRetryCount           int     `mapstructure:"max_retry_count"`
	CompoundIntervalSeconds int     `mapstructure:"compound_interval_seconds"`
	CompoundBatchSize       int     `mapstructure:"compound_batch_size"`
	RateLimitRPS            float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst          int     `mapstructure:"rate_limit_burst"`
	IdempotencyTTLSeconds   int     `mapstructure:"idempotency_ttl_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text / json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "savings")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.goal_events", "savings.goal")
	v.SetDefault("kafka.topic.ledger_events", "savings.ledger")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "savings-vault")
	v.SetDefault("savings.custody_account", "vault")
	v.SetDefault("savings.token", "")
	v.SetDefault("savings.admin", "")
	v.SetDefault("savings.emergency_penalty", 1000)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.compound_interval_seconds", 3600)
	v.SetDefault("business.compound_batch_size", 500)
	v.SetDefault("business.rate_limit_rps", 20)
	v.SetDefault("business.rate_limit_burst", 40)
	v.SetDefault("business.idempotency_ttl_seconds", 86400)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 依次叠加：默认值 < 配置文件 < .env < 环境变量。
// 配置文件不存在时只用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %q", c.Storage.Driver)
	}
	if c.Savings.CustodyAccount == "" {
		return errors.New("savings.custody_account 不能为空")
	}
	if (c.Savings.Token == "") != (c.Savings.Admin == "") {
		return errors.New("savings.token 和 savings.admin 必须同时配置")
	}
	if c.Savings.Admin != "" && c.Savings.Admin == c.Savings.CustodyAccount {
		return errors.New("savings.admin 不能是托管账户")
	}
	if c.Business.CompoundIntervalSeconds < 0 {
		return errors.New("business.compound_interval_seconds 不能为负")
	}
	return nil
}

// Bootstrap 是否需要在启动时初始化
func (s SavingsConfig) Bootstrap() bool {
	return s.Token != "" && s.Admin != ""
}
