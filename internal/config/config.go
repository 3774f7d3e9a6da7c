package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Config struct {
	Addr        string `envconfig:"STOREFRONT_ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	PayU     PayU     `ignored:"true"`
	Checkout Checkout `ignored:"true"`
}

// PayU holds gateway credentials and the throttling knobs around hash calls.
type PayU struct {
	Key         string `envconfig:"PAYU_KEY"`
	Salt        string `envconfig:"PAYU_SALT"`
	Environment string `envconfig:"PAYU_ENVIRONMENT" default:"1"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	MinInterval      time.Duration `envconfig:"PAYU_MIN_INTERVAL" default:"1s"`
	MaxRetries       int           `envconfig:"PAYU_MAX_RETRIES" default:"3"`
	BaseDelay        time.Duration `envconfig:"PAYU_BASE_DELAY" default:"1s"`
	BreakerThreshold int           `envconfig:"PAYU_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"PAYU_BREAKER_COOLDOWN" default:"60s"`
	RateLimit        int           `envconfig:"PAYU_RATE_LIMIT" default:"1"`
	RateWindow       time.Duration `envconfig:"PAYU_RATE_WINDOW" default:"1s"`
	DedupTTL         time.Duration `envconfig:"PAYU_DEDUP_TTL" default:"30s"`
	CacheTTL         time.Duration `envconfig:"PAYU_CACHE_TTL" default:"5m"`
	AttemptTTL       time.Duration `envconfig:"PAYMENT_ATTEMPT_TTL" default:"1h"`
}

type Checkout struct {
	SessionTTL   time.Duration   `envconfig:"CHECKOUT_SESSION_TTL" default:"30m"`
	TaxRate      decimal.Decimal `envconfig:"CHECKOUT_TAX_RATE" default:"0"`
	FlatShipping decimal.Decimal `envconfig:"CHECKOUT_FLAT_SHIPPING" default:"0"`
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	for _, target := range []interface{}{&cfg, &cfg.PayU, &cfg.Checkout} {
		if err := envconfig.Process("", target); err != nil {
			return Config{}, errors.Wrap(err, "load config")
		}
	}
	return cfg, nil
}

// SuccessURL and FailureURL are the callback targets handed to the gateway.
func (p PayU) SuccessURL() string { return p.BaseURL + "/api/v1/payment/success" }

func (p PayU) FailureURL() string { return p.BaseURL + "/api/v1/payment/failure" }
