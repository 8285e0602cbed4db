package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/thereayou/article-chat/internal/services"
	"github.com/thereayou/article-chat/pkg/log"
)

type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Log      log.Config             `mapstructure:"log"`
	Redis    RedisConfig            `mapstructure:"redis"`
	Database DatabaseConfig         `mapstructure:"database"`
	JWT      JWTConfig              `mapstructure:"jwt"`
	Chat     ChatConfig             `mapstructure:"chat"`
	Stream   StreamConfig           `mapstructure:"stream"`
	Flusher  services.FlusherConfig `mapstructure:"flusher"`
	Presence PresenceConfig         `mapstructure:"presence"`
	Broker   BrokerConfig           `mapstructure:"broker"`
	NATS     NATSConfig             `mapstructure:"nats"`
	Kafka    KafkaConfig            `mapstructure:"kafka"`
	Live     LiveConfig             `mapstructure:"live"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type ChatConfig struct {
	MaxCacheSize int           `mapstructure:"max_cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type StreamConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	MaxLen    int64         `mapstructure:"max_len"`
}

type PresenceConfig struct {
	Driver string `mapstructure:"driver"`
}

type BrokerConfig struct {
	Driver string `mapstructure:"driver"`
	Stream string `mapstructure:"stream"`
	Topic  string `mapstructure:"topic"`
	Queue  string `mapstructure:"queue"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type LiveConfig struct {
	Driver      string `mapstructure:"driver"`
	Subject     string `mapstructure:"subject"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	AppPrefix   string `mapstructure:"app_prefix"`
}

// envAliases переменные окружения без префикса секции
var envAliases = map[string]string{
	"server.port":  "PORT",
	"redis.url":    "REDIS_URL",
	"database.url": "DATABASE_URL",
	"jwt.secret":   "JWT_SECRET",
	"nats.url":     "NATS_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "article-chat")

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("chat.max_cache_size", 100)
	v.SetDefault("chat.cache_ttl", 72*time.Hour)

	v.SetDefault("stream.retention", 72*time.Hour)
	v.SetDefault("stream.max_len", 10000)

	v.SetDefault("flusher.interval", 30*time.Second)
	v.SetDefault("flusher.batch_size", 100)
	v.SetDefault("flusher.max_batches", 50)
	v.SetDefault("flusher.group", "chat-flusher")
	v.SetDefault("flusher.consumer", "")
	v.SetDefault("flusher.dead_letter", false)
	v.SetDefault("flusher.read_block", 0)

	v.SetDefault("presence.driver", "redis")

	v.SetDefault("broker.driver", "memory")
	v.SetDefault("broker.stream", "CHAT_ROOMS")
	v.SetDefault("broker.topic", "chat.rooms")
	v.SetDefault("broker.queue", "chat-relay")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("kafka.brokers", []string{})

	v.SetDefault("live.driver", "memory")
	v.SetDefault("live.subject", "chat.live")
	v.SetDefault("live.topic_prefix", "/topic/room")
	v.SetDefault("live.app_prefix", "/app")
}

// Load читает .env.local/.env, затем config.yaml (если есть) и переменные окружения.
// Ключ a.b читается из переменной A_B
func Load(configPath string) (*Config, error) {
	loadDotenv(".env.local", ".env")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Flusher.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "flusher"
		}
		cfg.Flusher.Consumer = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервис не стартует
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is required")
	}
	if c.Chat.MaxCacheSize <= 0 {
		return fmt.Errorf("chat.max_cache_size must be positive, got %d", c.Chat.MaxCacheSize)
	}
	if c.Flusher.BatchSize <= 0 {
		return fmt.Errorf("flusher.batch_size must be positive, got %d", c.Flusher.BatchSize)
	}
	if c.Broker.Driver == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required for broker.driver=kafka")
	}
	return nil
}

// loadDotenv подхватывает первый найденный файл, переменные окружения не перезаписываются
func loadDotenv(files ...string) {
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			return
		}
	}
	logger := log.L()
	logger.Debug().Msg(".env not found, using environment variables")
}
