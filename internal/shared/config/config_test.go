package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	path := writeConfig(t, `
service:
  port: ${TEST_PORT:-9090}
database:
  host: ${TEST_DB_HOST:-localhost}
auth:
  jwt_secret: secret
publish:
  timeout: 750ms
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Service.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 750*time.Millisecond, cfg.Publish.Timeout)
	assert.Equal(t, "rides_topic", cfg.RabbitMQ.Exchange, "defaults survive partial files")
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: from-file
storage:
  driver: postgres
`)
	t.Setenv("BOOKING_STORAGE_DRIVER", "memory")
	t.Setenv("BOOKING_RABBITMQ_DEAD_LETTER_QUEUE", "custom.dlq")
	t.Setenv("BOOKING_INGEST_MAX_ATTEMPTS", "9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "custom.dlq", cfg.RabbitMQ.DeadLetterQueue)
	assert.Equal(t, 9, cfg.Ingest.MaxAttempts)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BOOKING_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "4002", cfg.Service.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "secret"
	require.NoError(t, Validate(cfg))

	cfg.Auth.JWTSecret = " "
	cfg.Storage.Driver = "sqlite"
	cfg.Ingest.MaxAttempts = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "ingest.max_attempts")
}

func TestExpand(t *testing.T) {
	t.Setenv("SET_VAR", "value")
	assert.Equal(t, "a: value", expand("a: ${SET_VAR:-x}"))
	assert.Equal(t, "a: x", expand("a: ${UNSET_VAR_FOR_TEST:-x}"))
	assert.Equal(t, "a: ", expand("a: ${UNSET_VAR_FOR_TEST}"))
}
