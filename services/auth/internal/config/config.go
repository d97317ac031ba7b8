package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	base "github.com/AfshinJalili/regportal/libs/config"
	"github.com/AfshinJalili/regportal/services/auth/internal/rate"
	"github.com/AfshinJalili/regportal/services/auth/internal/security"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
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

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	LoginLimit   int
	AccountLimit int
	Window       time.Duration
	Redis        RateLimitRedisConfig
}

// PasswordConfig sets the argon2id cost for new hashes. Raising it upgrades
// existing users on their next successful login.
type PasswordConfig struct {
	MemoryKiB   int
	Iterations  int
	Parallelism int
}

func (c PasswordConfig) Params() security.Argon2Params {
	params := security.DefaultArgon2Params()
	params.Memory = uint32(c.MemoryKiB)
	params.Iterations = uint32(c.Iterations)
	params.Parallelism = uint8(c.Parallelism)
	return params
}

type Config struct {
	App             base.AppConfig
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	DB              DBConfig
	RateLimit       RateLimitConfig
	Password        PasswordConfig
}

func Load() (*Config, error) {
	v, err := base.NewViper(os.Getenv(base.EnvPrefix + "_AUTH_CONFIG"))
	if err != nil {
		return nil, err
	}
	base.SetAppDefaults(v, "portal-auth")
	v.SetDefault("http.port", 8081)

	var app base.AppConfig
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		App:             app,
		JWTSecret:       base.EnvString("JWT_SECRET", ""),
		JWTIssuer:       base.EnvString("JWT_ISSUER", "portal-auth"),
		AccessTokenTTL:  base.EnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: base.EnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		DB: DBConfig{
			Host:     base.EnvString("DB_HOST", base.EnvString("POSTGRES_HOST", "localhost")),
			Port:     base.EnvInt("DB_PORT", base.EnvInt("POSTGRES_PORT", 5432)),
			Name:     base.EnvString("DB_NAME", base.EnvString("POSTGRES_DB", "portal")),
			User:     base.EnvString("DB_USER", base.EnvString("POSTGRES_USER", "portal")),
			Password: base.EnvString("DB_PASSWORD", base.EnvString("POSTGRES_PASSWORD", "portal")),
			SSLMode:  base.EnvString("DB_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			LoginLimit:   base.EnvInt("LOGIN_RATE_LIMIT", 10),
			AccountLimit: base.EnvInt("LOGIN_ACCOUNT_RATE_LIMIT", 5),
			Window:       base.EnvDuration("LOGIN_RATE_WINDOW", time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     base.EnvString("RATE_LIMIT_REDIS_ADDR", ""),
				Password: base.EnvString("RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       base.EnvInt("RATE_LIMIT_REDIS_DB", 0),
				Prefix:   base.EnvString("RATE_LIMIT_REDIS_PREFIX", "portal:auth:login:"),
			},
		},
	}

	defaults := security.DefaultArgon2Params()
	cfg.Password = PasswordConfig{
		MemoryKiB:   base.EnvInt("PASSWORD_ARGON_MEMORY_KIB", int(defaults.Memory)),
		Iterations:  base.EnvInt("PASSWORD_ARGON_ITERATIONS", int(defaults.Iterations)),
		Parallelism: base.EnvInt("PASSWORD_ARGON_PARALLELISM", int(defaults.Parallelism)),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoginPolicy is the limiter policy for the login endpoint.
func (c RateLimitConfig) LoginPolicy() rate.Policy {
	return rate.Policy{PerIP: c.LoginLimit, PerAccount: c.AccountLimit, Window: c.Window}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.App.IsLocal() {
			return fmt.Errorf("jwt secret required outside dev/test")
		}
		c.JWTSecret = "dev-secret"
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token ttls must be positive")
	}
	if c.RateLimit.LoginLimit <= 0 || c.RateLimit.AccountLimit <= 0 {
		return fmt.Errorf("login rate limits must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("login rate window must be positive")
	}
	if c.Password.MemoryKiB < 8*1024 || c.Password.Iterations < 1 || c.Password.Parallelism < 1 || c.Password.Parallelism > 255 {
		return fmt.Errorf("password hashing parameters out of range")
	}
	return nil
}
