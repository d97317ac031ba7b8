package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/regportal/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Configured reports whether a database host was given. Local runs without one
// fall back to the in-memory store.
func (c DBConfig) Configured() bool {
	return c.Host != ""
}

func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaTopics struct {
	Submitted   string
	Returned    string
	LineDecided string
	Decided     string
	DeadLetter  string
}

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topics   KafkaTopics
}

type NotifyConfig struct {
	QueueSize int
	Workers   int
}

type Config struct {
	App                  base.AppConfig
	DB                   DBConfig
	Redis                RedisConfig
	Kafka                KafkaConfig
	Notify               NotifyConfig
	JWTSecret            string
	SessionTTL           time.Duration
	EntityRefresh        time.Duration
	AutoMigrate          bool
	SeedEntitiesInMemory bool
}

func Load() (*Config, error) {
	path := os.Getenv(base.EnvPrefix + "_CONFIG")
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "portal")
	v.SetDefault("db.user", "portal")
	v.SetDefault("db.password", "portal")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.client_id", "portal-service")
	v.SetDefault("kafka.topics.submitted", "access_requests.submitted")
	v.SetDefault("kafka.topics.returned", "access_requests.returned")
	v.SetDefault("kafka.topics.line_decided", "access_requests.line_decided")
	v.SetDefault("kafka.topics.decided", "access_requests.decided")
	v.SetDefault("kafka.topics.dead_letter", "portal.dead_letter")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("session_ttl", "8h")
	v.SetDefault("entity_refresh_interval", "5m")
	v.SetDefault("auto_migrate", true)

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     base.EnvString("DB_HOST", base.EnvString("POSTGRES_HOST", v.GetString("db.host"))),
			Port:     base.EnvInt("DB_PORT", base.EnvInt("POSTGRES_PORT", v.GetInt("db.port"))),
			Name:     base.EnvString("DB_NAME", base.EnvString("POSTGRES_DB", v.GetString("db.name"))),
			User:     base.EnvString("DB_USER", base.EnvString("POSTGRES_USER", v.GetString("db.user"))),
			Password: base.EnvString("DB_PASSWORD", base.EnvString("POSTGRES_PASSWORD", v.GetString("db.password"))),
			SSLMode:  base.EnvString("DB_SSLMODE", v.GetString("db.sslmode")),
		},
		Redis: RedisConfig{
			Addr:     base.EnvString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: base.EnvString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       base.EnvInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Kafka: KafkaConfig{
			Brokers:  base.EnvCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ClientID: base.EnvString("KAFKA_CLIENT_ID", v.GetString("kafka.client_id")),
			Topics: KafkaTopics{
				Submitted:   base.EnvString("KAFKA_SUBMITTED_TOPIC", v.GetString("kafka.topics.submitted")),
				Returned:    base.EnvString("KAFKA_RETURNED_TOPIC", v.GetString("kafka.topics.returned")),
				LineDecided: base.EnvString("KAFKA_LINE_DECIDED_TOPIC", v.GetString("kafka.topics.line_decided")),
				Decided:     base.EnvString("KAFKA_DECIDED_TOPIC", v.GetString("kafka.topics.decided")),
				DeadLetter:  base.EnvString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Notify: NotifyConfig{
			QueueSize: base.EnvInt("NOTIFY_QUEUE_SIZE", v.GetInt("notify.queue_size")),
			Workers:   base.EnvInt("NOTIFY_WORKERS", v.GetInt("notify.workers")),
		},
		JWTSecret:     base.EnvString("JWT_SECRET", v.GetString("jwt_secret")),
		SessionTTL:    base.EnvDuration("SESSION_TTL", v.GetDuration("session_ttl")),
		EntityRefresh: base.EnvDuration("ENTITY_REFRESH_INTERVAL", v.GetDuration("entity_refresh_interval")),
		AutoMigrate:   base.EnvBool("AUTO_MIGRATE", v.GetBool("auto_migrate")),
	}
	cfg.SeedEntitiesInMemory = !cfg.DB.Configured() && cfg.App.IsLocal()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.App.IsLocal() {
			return fmt.Errorf("jwt secret required outside dev/test")
		}
		c.JWTSecret = "dev-secret"
	}
	if !c.DB.Configured() && !c.App.IsLocal() {
		return fmt.Errorf("db host required outside dev/test")
	}
	if c.DB.Configured() && c.DB.Port <= 0 {
		return fmt.Errorf("db port must be positive")
	}
	for _, topic := range []string{c.Kafka.Topics.Submitted, c.Kafka.Topics.Returned, c.Kafka.Topics.LineDecided, c.Kafka.Topics.Decided} {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("kafka topics required")
		}
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify queue size must be positive")
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("notify workers must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.EntityRefresh <= 0 {
		return fmt.Errorf("entity refresh interval must be positive")
	}
	return nil
}
