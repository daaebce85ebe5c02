package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type ServerConfig struct {
	BindAddr string `yaml:"bindAddr"`
}

type IngestConfig struct {
	BindAddr string `yaml:"bindAddr"`
	// MaxSkew bounds the accepted signature timestamp drift; never above 5m.
	MaxSkew string `yaml:"maxSkew"`
	MaxBody int64  `yaml:"maxBody"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Migrate  bool   `yaml:"migrate"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig enables the Redis Streams queue and the dispatch guard when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AlertingConfig struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     QueueConfig     `yaml:"queue"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Checkers  CheckersConfig  `yaml:"checkers"`
}

type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tick    string `yaml:"tick"` // e.g. "1s"
	Workers int    `yaml:"workers"`
}

type QueueConfig struct {
	Shards       int    `yaml:"shards"`
	Size         int    `yaml:"size"` // per-shard buffer of the in-memory queue
	Stream       string `yaml:"stream"`
	Group        string `yaml:"group"`
	Consumer     string `yaml:"consumer"`
	Block        string `yaml:"block"`
	ClaimMinIdle string `yaml:"claimMinIdle"`
	MaxLen       int64  `yaml:"maxLen"`
}

type EvaluatorConfig struct {
	DispatchDelay     string `yaml:"dispatchDelay"`
	RedeliverInterval string `yaml:"redeliverInterval"`
	RedeliverAge      string `yaml:"redeliverAge"`
	RedeliverBatch    int    `yaml:"redeliverBatch"`
}

type DispatchConfig struct {
	PollInterval   string `yaml:"pollInterval"`
	Batch          int    `yaml:"batch"`
	Lease          string `yaml:"lease"`
	MaxAttempts    int    `yaml:"maxAttempts"`
	InitialBackoff string `yaml:"initialBackoff"`
	MaxBackoff     string `yaml:"maxBackoff"`
	WebhookTimeout string `yaml:"webhookTimeout"`
	GuardTTL       string `yaml:"guardTTL"`
}

type CheckersConfig struct {
	// Browser enables the playwright-driven browser checker.
	Browser bool `yaml:"browser"`
}

type BootstrapConfig struct {
	File string `yaml:"file"`
}

// Load parses the -f flag and builds the configuration.
func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()
	return LoadFrom(*configFile)
}

// LoadFrom builds the configuration from the environment and, when filePath
// is set, overlays the YAML (or JSON) file.
func LoadFrom(filePath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Ingest: IngestConfig{
			BindAddr: getEnv("INGEST_BIND_ADDR", "0.0.0.0:9091"),
			MaxSkew:  getEnv("INGEST_MAX_SKEW", "5m"),
			MaxBody:  int64(getEnvInt("INGEST_MAX_BODY", 64<<10)),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "watchtower"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getEnvBool("DB_MIGRATE", true),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Alerting: AlertingConfig{
			Scheduler: SchedulerConfig{
				Enabled: getEnvBool("SCHEDULER_ENABLED", true),
				Tick:    getEnv("SCHEDULER_TICK", "1s"),
				Workers: getEnvInt("SCHEDULER_WORKERS", 16),
			},
			Queue: QueueConfig{
				Shards:       getEnvInt("QUEUE_SHARDS", 8),
				Size:         getEnvInt("QUEUE_SIZE", 1024),
				Stream:       getEnv("QUEUE_STREAM", "watchtower:checks"),
				Group:        getEnv("QUEUE_GROUP", "evaluators"),
				Consumer:     getEnv("QUEUE_CONSUMER", ""),
				Block:        getEnv("QUEUE_BLOCK", "2s"),
				ClaimMinIdle: getEnv("QUEUE_CLAIM_MIN_IDLE", "30s"),
				MaxLen:       int64(getEnvInt("QUEUE_MAX_LEN", 100000)),
			},
			Evaluator: EvaluatorConfig{
				DispatchDelay:     getEnv("DISPATCH_DELAY", "2s"),
				RedeliverInterval: getEnv("REDELIVER_INTERVAL", "30s"),
				RedeliverAge:      getEnv("REDELIVER_AGE", "1m"),
				RedeliverBatch:    getEnvInt("REDELIVER_BATCH", 200),
			},
			Dispatch: DispatchConfig{
				PollInterval:   getEnv("DISPATCH_POLL_INTERVAL", "1s"),
				Batch:          getEnvInt("DISPATCH_BATCH", 100),
				Lease:          getEnv("DISPATCH_LEASE", "30s"),
				MaxAttempts:    getEnvInt("DISPATCH_MAX_ATTEMPTS", 8),
				InitialBackoff: getEnv("DISPATCH_INITIAL_BACKOFF", "5s"),
				MaxBackoff:     getEnv("DISPATCH_MAX_BACKOFF", "10m"),
				WebhookTimeout: getEnv("DISPATCH_WEBHOOK_TIMEOUT", "10s"),
				GuardTTL:       getEnv("DISPATCH_GUARD_TTL", "24h"),
			},
			Checkers: CheckersConfig{
				Browser: getEnvBool("CHECKER_BROWSER", false),
			},
		},
		Bootstrap: BootstrapConfig{
			File: getEnv("BOOTSTRAP_FILE", ""),
		},
	}

	if filePath != "" {
		if err := loadFromFile(cfg, filePath); err != nil {
			log.Err(err).Msg("load config file")
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Ingest.BindAddr == "" {
		cfg.Ingest.BindAddr = "0.0.0.0:9091"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Alerting.Scheduler.Workers == 0 {
		cfg.Alerting.Scheduler.Workers = 16
	}
	if cfg.Alerting.Queue.Shards == 0 {
		cfg.Alerting.Queue.Shards = 8
	}
	if cfg.Alerting.Dispatch.MaxAttempts == 0 {
		cfg.Alerting.Dispatch.MaxAttempts = 8
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if skew := ParseDuration(c.Ingest.MaxSkew, 5*time.Minute); skew > 5*time.Minute {
		return fmt.Errorf("ingest.maxSkew %s exceeds the 5m limit", skew)
	}
	if c.Alerting.Queue.Shards < 1 {
		return fmt.Errorf("alerting.queue.shards must be positive")
	}
	return nil
}

// ParseDuration parses Prometheus-style durations ("30s", "5m", "1d", "1w"),
// falls back to time.ParseDuration, and returns def for empty or invalid input.
func ParseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if d, err := model.ParseDuration(s); err == nil {
		return time.Duration(d)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	log.Warn().Str("value", s).Dur("default", def).Msg("invalid duration in config; using default")
	return def
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
