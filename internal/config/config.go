package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything the binaries read from the environment. Variables
// use the POLLS_ prefix, e.g. POLLS_STORE_DRIVER; a .env file in the working
// directory is loaded first when present.
type Config struct {
	HTTPAddr       string
	AllowedOrigins []string

	LogLevel    slog.Level
	StoreDriver string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	SendTimeout      time.Duration
	QueueSize        int
	StreamQueueSize  int
	LedgerTimeout    time.Duration
	MetricsNamespace string
	AuditEvery       time.Duration
	ServerURL        string
}

var drivers = map[string]bool{"memory": true, "postgres": true, "sqlite": true, "mysql": true}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("POLLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8081")
	v.SetDefault("http.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "votes")
	v.SetDefault("kafka.group_id", "vote-auditor-group")
	v.SetDefault("fanout.send_timeout", "5s")
	v.SetDefault("fanout.queue_size", 64)
	v.SetDefault("stream.queue_size", 1024)
	v.SetDefault("ledger.timeout", "5s")
	v.SetDefault("metrics.namespace", "polls")
	v.SetDefault("audit.every", "5s")
	v.SetDefault("server.url", "http://localhost:8081")
	return v
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:         v.GetString("http.addr"),
		AllowedOrigins:   splitList(v.GetString("http.allowed_origins")),
		StoreDriver:      strings.ToLower(v.GetString("store.driver")),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		KafkaBrokers:     splitList(v.GetString("kafka.brokers")),
		KafkaTopic:       v.GetString("kafka.topic"),
		KafkaGroupID:     v.GetString("kafka.group_id"),
		SendTimeout:      v.GetDuration("fanout.send_timeout"),
		QueueSize:        v.GetInt("fanout.queue_size"),
		StreamQueueSize:  v.GetInt("stream.queue_size"),
		LedgerTimeout:    v.GetDuration("ledger.timeout"),
		MetricsNamespace: v.GetString("metrics.namespace"),
		AuditEvery:       v.GetDuration("audit.every"),
		ServerURL:        strings.TrimRight(v.GetString("server.url"), "/"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return Config{}, fmt.Errorf("invalid POLLS_LOG_LEVEL: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if !drivers[c.StoreDriver] {
		errs = append(errs, fmt.Errorf("unknown POLLS_STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StoreDriver != "memory" && c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("POLLS_DATABASE_URL is required for the %s driver", c.StoreDriver))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("POLLS_FANOUT_SEND_TIMEOUT must be positive"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("POLLS_FANOUT_QUEUE_SIZE must be at least 1"))
	}
	if c.LedgerTimeout <= 0 {
		errs = append(errs, errors.New("POLLS_LEDGER_TIMEOUT must be positive"))
	}
	if c.AuditEvery <= 0 {
		errs = append(errs, errors.New("POLLS_AUDIT_EVERY must be positive"))
	}
	return errors.Join(errs...)
}

// StreamEnabled reports whether applied votes go to Kafka.
func (c Config) StreamEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
