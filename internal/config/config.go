package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema,
	)
}

type Checkout struct {
	// IdempotencyWindow buckets derived idempotency keys; identical commits
	// inside one window produce one order.
	IdempotencyWindow  time.Duration `yaml:"idempotency_window"`
	DeliveryTryOnBonus int           `yaml:"delivery_try_on_bonus"`
}

type Worker struct {
	Interval             time.Duration `yaml:"interval"`
	GatewayStuckAfter    time.Duration `yaml:"gateway_stuck_after"`
	GatewayAbandonAfter  time.Duration `yaml:"gateway_abandon_after"`
	CartClearMaxAttempts int           `yaml:"cart_clear_max_attempts"`
	BatchSize            int           `yaml:"batch_size"`
}

type Config struct {
	Env      string   `yaml:"env"`
	LogLevel string   `yaml:"log_level"`
	HTTPAddr string   `yaml:"http_addr"`
	DB       Database `yaml:"database"`
	Checkout Checkout `yaml:"checkout"`
	Worker   Worker   `yaml:"worker"`
}

// Load reads the environment (and .env), then overlays CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "local"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DB: Database{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Database: getEnv("BLUEPRINT_DB_DATABASE", "snapcart"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Checkout: Checkout{
			IdempotencyWindow:  getDuration("CHECKOUT_IDEMPOTENCY_WINDOW", 10*time.Minute),
			DeliveryTryOnBonus: getInt("DELIVERY_TRY_ON_BONUS", 2),
		},
		Worker: Worker{
			Interval:             getDuration("WORKER_INTERVAL", 30*time.Second),
			GatewayStuckAfter:    getDuration("GATEWAY_STUCK_AFTER", time.Minute),
			GatewayAbandonAfter:  getDuration("GATEWAY_ABANDON_AFTER", 30*time.Minute),
			CartClearMaxAttempts: getInt("CART_CLEAR_MAX_ATTEMPTS", 10),
			BatchSize:            getInt("WORKER_BATCH_SIZE", 100),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
