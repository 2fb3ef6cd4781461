package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// MaxQtyScale matches the fractional digits of the stored qty columns.
const MaxQtyScale = 3

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`

	RedisAddr              string `envconfig:"REDIS_ADDR"`
	RedisPassword          string `envconfig:"REDIS_PASSWORD"`
	RedisDB                int    `envconfig:"REDIS_DB" default:"0"`
	ProductCacheTTLSeconds int    `envconfig:"PRODUCT_CACHE_TTL_SECONDS" default:"300"`
	DocumentLockTTLSeconds int    `envconfig:"DOCUMENT_LOCK_TTL_SECONDS" default:"30"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"supplier-transactions"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	AdminPIN              string `envconfig:"ADMIN_PIN"`

	QtyScale int32 `envconfig:"QTY_SCALE" default:"3"`
}

// Load reads an optional env file (ENV_FILE, else .env) and then the process
// environment.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.AdminPIN = strings.TrimSpace(cfg.AdminPIN)
	if cfg.ProductCacheTTLSeconds < 1 {
		cfg.ProductCacheTTLSeconds = 300
	}
	if cfg.DocumentLockTTLSeconds < 1 {
		cfg.DocumentLockTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.QtyScale < 1 || cfg.QtyScale > MaxQtyScale {
		return Config{}, fmt.Errorf("QTY_SCALE must be between 1 and %d, got %d", MaxQtyScale, cfg.QtyScale)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ProductCacheTTL() time.Duration {
	return time.Duration(c.ProductCacheTTLSeconds) * time.Second
}

func (c Config) DocumentLockTTL() time.Duration {
	return time.Duration(c.DocumentLockTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Validate rejects configurations that would run with guessable secrets.
func (c Config) Validate() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(c.AdminPIN) < 6 {
		return fmt.Errorf("ADMIN_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(c.AdminPIN); err != nil {
		return fmt.Errorf("ADMIN_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
