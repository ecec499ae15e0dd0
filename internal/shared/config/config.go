package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"booking-service/internal/shared/models"
)

// EnvPrefix is prepended to every environment override, e.g.
// BOOKING_DATABASE_HOST or BOOKING_AUTH_JWT_SECRET.
const EnvPrefix = "BOOKING"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Default returns the configuration used when a key is absent from the file.
func Default() *models.Config {
	return &models.Config{
		Service: models.ServiceConfig{
			Name:           "booking-service",
			Port:           "4002",
			RequestTimeout: 5 * time.Second,
		},
		Log:     models.LogConfig{Level: "info"},
		Storage: models.StorageConfig{Driver: StoragePostgres},
		Database: models.DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "booking",
			Database: "booking",
			MaxConns: 10,
		},
		RabbitMQ: models.RabbitMQConfig{
			Host:               "localhost",
			Port:               "5672",
			User:               "guest",
			Password:           "guest",
			Exchange:           "rides_topic",
			Queue:              "booking-service",
			DeadLetterExchange: "booking-service.dlx",
			DeadLetterQueue:    "booking-service.dlq",
			Prefetch:           16,
		},
		Ingest: models.IngestConfig{
			MaxAttempts:    5,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Publish: models.PublishConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Timeout:        3 * time.Second,
			RelayInterval:  30 * time.Second,
			RelayBatch:     100,
		},
	}
}

// LoadConfig reads filename, expands ${VAR:-default} placeholders, applies
// BOOKING_* environment overrides and validates the result. A missing file
// is not an error: defaults plus environment are used instead.
func LoadConfig(filename string) (*models.Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := Parse(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg after placeholder expansion.
func Parse(raw []byte, cfg *models.Config) error {
	expanded := expand(string(raw))
	return yaml.Unmarshal([]byte(expanded), cfg)
}

func expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok {
			return v
		}
		return parts[3]
	})
}

func Validate(cfg *models.Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if cfg.Service.Port == "" {
		errs = append(errs, errors.New("service.port is required"))
	}
	if cfg.Service.RequestTimeout <= 0 {
		errs = append(errs, errors.New("service.request_timeout must be positive"))
	}
	switch cfg.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q", StorageMemory, StoragePostgres))
	}
	if cfg.RabbitMQ.Exchange == "" || cfg.RabbitMQ.Queue == "" {
		errs = append(errs, errors.New("rabbitmq.exchange and rabbitmq.queue are required"))
	}
	if cfg.Ingest.MaxAttempts < 1 {
		errs = append(errs, errors.New("ingest.max_attempts must be at least 1"))
	}
	if cfg.Publish.MaxAttempts < 1 {
		errs = append(errs, errors.New("publish.max_attempts must be at least 1"))
	}
	if cfg.Publish.Timeout <= 0 {
		errs = append(errs, errors.New("publish.timeout must be positive"))
	}
	if cfg.Publish.RelayInterval <= 0 {
		errs = append(errs, errors.New("publish.relay_interval must be positive"))
	}

	return errors.Join(errs...)
}
