package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, "votes", cfg.KafkaTopic)
	assert.False(t, cfg.StreamEnabled())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLLS_HTTP_ADDR", ":9000")
	t.Setenv("POLLS_HTTP_ALLOWED_ORIGINS", "localhost:3000,*.example.com")
	t.Setenv("POLLS_STORE_DRIVER", "SQLite")
	t.Setenv("POLLS_DATABASE_URL", "/tmp/polls.db")
	t.Setenv("POLLS_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("POLLS_FANOUT_SEND_TIMEOUT", "250ms")
	t.Setenv("POLLS_LOG_LEVEL", "debug")
	t.Setenv("POLLS_SERVER_URL", "http://polls.internal/")

	cfg, err := fromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"localhost:3000", "*.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/polls.db", cfg.DatabaseURL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.SendTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "http://polls.internal", cfg.ServerURL)
	assert.True(t, cfg.StreamEnabled())
}

func TestValidation(t *testing.T) {
	t.Setenv("POLLS_STORE_DRIVER", "postgres")
	t.Setenv("POLLS_FANOUT_QUEUE_SIZE", "0")

	_, err := fromViper(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLLS_DATABASE_URL")
	assert.Contains(t, err.Error(), "POLLS_FANOUT_QUEUE_SIZE")
}

func TestUnknownDriverAndLevel(t *testing.T) {
	t.Setenv("POLLS_STORE_DRIVER", "oracle")
	_, err := fromViper(newViper())
	assert.ErrorContains(t, err, "oracle")

	t.Setenv("POLLS_STORE_DRIVER", "memory")
	t.Setenv("POLLS_LOG_LEVEL", "loud")
	_, err = fromViper(newViper())
	assert.ErrorContains(t, err, "POLLS_LOG_LEVEL")
}
