package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`

	// BootstrapAdminPassword creates the first admin on an empty postgres store.
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`

	WholesaleThreshold  string `envconfig:"WHOLESALE_THRESHOLD" default:"3000.00"`
	WholesaleRuleActive bool   `envconfig:"WHOLESALE_RULE_ACTIVE" default:"true"`
	StrictAllocation    bool   `envconfig:"STRICT_ALLOCATION" default:"false"`
	CashWarnPercent     string `envconfig:"CASH_DIFFERENCE_WARN_PCT" default:"1.0"`
	CashCriticalPercent string `envconfig:"CASH_DIFFERENCE_CRITICAL_PCT" default:"5.0"`

	WebOrderPollInterval time.Duration `envconfig:"WEB_ORDER_POLL_INTERVAL" default:"30s"`
	PendingCacheTTL      time.Duration `envconfig:"PENDING_CACHE_TTL" default:"45s"`

	RateLimitPerMinute      int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	LoginRateLimitPerMinute int `envconfig:"LOGIN_RATE_LIMIT_PER_MINUTE" default:"5"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	if cfg.WebOrderPollInterval < time.Second {
		cfg.WebOrderPollInterval = 30 * time.Second
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// PollSpec is the asynq scheduler spec for the web order poll.
func (c Config) PollSpec() string {
	return fmt.Sprintf("@every %s", c.WebOrderPollInterval)
}
