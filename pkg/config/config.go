package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Outbox   OutboxRelayConfig
	Deadline DeadlineConfig
	Push     PushConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	SyncTopic     string   `mapstructure:"sync_topic"`
	RetryTopic    string   `mapstructure:"retry_topic"`
	DLQTopic      string   `mapstructure:"dlq_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	MaxRetries    int      `mapstructure:"max_retries"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// DeadlineConfig drives both deadline stamping on SUBMIT and the reminder
// scanner. Hours are deployment parameters, not correctness properties.
type DeadlineConfig struct {
	ReviewHours       int           `mapstructure:"review_hours"`
	ApprovalHours     int           `mapstructure:"approval_hours"`
	ReminderLeadHours int           `mapstructure:"reminder_lead_hours"`
	ReminderCooldown  time.Duration `mapstructure:"reminder_cooldown"`
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
}

type PushConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/syllaflow/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("SYLLAFLOW")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("kafka.client_id", "syllaflow")
	viper.SetDefault("kafka.sync_topic", "syllaflow.workflow.sync")
	viper.SetDefault("kafka.retry_topic", "syllaflow.workflow.sync.retry")
	viper.SetDefault("kafka.dlq_topic", "syllaflow.workflow.sync.dlq")
	viper.SetDefault("kafka.consumer_group", "syllaflow-document-service")
	viper.SetDefault("kafka.max_retries", 3)
	viper.SetDefault("outbox.poll_interval", "5s")
	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("deadline.review_hours", 72)
	viper.SetDefault("deadline.approval_hours", 72)
	viper.SetDefault("deadline.reminder_lead_hours", 6)
	viper.SetDefault("deadline.reminder_cooldown", "12h")
	viper.SetDefault("deadline.scan_interval", "60s")
	viper.SetDefault("push.timeout", "5s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
