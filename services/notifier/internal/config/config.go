package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	base "github.com/AfshinJalili/regportal/libs/config"
)

type KafkaTopics struct {
	Submitted   string
	Returned    string
	LineDecided string
	Decided     string
	DeadLetter  string
}

// Workflow lists the topics the notifier subscribes to.
func (t KafkaTopics) Workflow() []string {
	return []string{t.Submitted, t.Returned, t.LineDecided, t.Decided}
}

type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	ConsumerGroup string
	MaxAttempts   int
	RetryBackoff  time.Duration
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	App      base.AppConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	MailFrom string
	DedupTTL time.Duration
}

func Load() (*Config, error) {
	v, err := base.NewViper(os.Getenv(base.EnvPrefix + "_NOTIFIER_CONFIG"))
	if err != nil {
		return nil, err
	}
	base.SetAppDefaults(v, "portal-notifier")
	v.SetDefault("http.port", 8082)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "portal-notifier")
	v.SetDefault("kafka.consumer_group", "portal-notifier")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.retry_backoff", "500ms")
	v.SetDefault("kafka.topics.submitted", "access_requests.submitted")
	v.SetDefault("kafka.topics.returned", "access_requests.returned")
	v.SetDefault("kafka.topics.line_decided", "access_requests.line_decided")
	v.SetDefault("kafka.topics.decided", "access_requests.decided")
	v.SetDefault("kafka.topics.dead_letter", "portal.dead_letter")
	v.SetDefault("mail_from", "no-reply@portal.local")
	v.SetDefault("dedup_ttl", "72h")

	var app base.AppConfig
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		App: app,
		Kafka: KafkaConfig{
			Brokers:       base.EnvCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ClientID:      base.EnvString("KAFKA_CLIENT_ID", v.GetString("kafka.client_id")),
			ConsumerGroup: base.EnvString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			MaxAttempts:   base.EnvInt("KAFKA_MAX_ATTEMPTS", v.GetInt("kafka.max_attempts")),
			RetryBackoff:  base.EnvDuration("KAFKA_RETRY_BACKOFF", v.GetDuration("kafka.retry_backoff")),
			Topics: KafkaTopics{
				Submitted:   base.EnvString("KAFKA_SUBMITTED_TOPIC", v.GetString("kafka.topics.submitted")),
				Returned:    base.EnvString("KAFKA_RETURNED_TOPIC", v.GetString("kafka.topics.returned")),
				LineDecided: base.EnvString("KAFKA_LINE_DECIDED_TOPIC", v.GetString("kafka.topics.line_decided")),
				Decided:     base.EnvString("KAFKA_DECIDED_TOPIC", v.GetString("kafka.topics.decided")),
				DeadLetter:  base.EnvString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     base.EnvString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: base.EnvString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       base.EnvInt("REDIS_DB", v.GetInt("redis.db")),
		},
		MailFrom: base.EnvString("MAIL_FROM", v.GetString("mail_from")),
		DedupTTL: base.EnvDuration("NOTIFIER_DEDUP_TTL", v.GetDuration("dedup_ttl")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(c.Kafka.ConsumerGroup) == "" {
		return fmt.Errorf("kafka consumer group required")
	}
	for _, topic := range c.Kafka.Topics.Workflow() {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("kafka workflow topics required")
		}
	}
	if c.Kafka.MaxAttempts <= 0 {
		return fmt.Errorf("kafka max attempts must be positive")
	}
	if !strings.Contains(c.MailFrom, "@") {
		return fmt.Errorf("mail from address invalid: %q", c.MailFrom)
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("dedup ttl must be positive")
	}
	return nil
}
