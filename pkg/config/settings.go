package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackforge/pkg/telemetry"
)

// Lock backends.
const (
	LockBackendSQLite   = "sqlite"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STACKFORGE_"

// Settings is the engine process configuration.
type Settings struct {
	// EngineID identifies this engine process in stack locks. A random UUID
	// is generated when it is left empty.
	EngineID string `yaml:"engine_id" validate:"required,excludesall=.*> "`

	// DatabasePath is the SQLite database file, or ":memory:".
	DatabasePath string `yaml:"database_path" validate:"required"`

	// Region is reported through the AWS::Region pseudo parameter.
	Region string `yaml:"region"`

	// Lock selects and configures the stack lock backend.
	Lock LockSettings `yaml:"lock"`

	// NATS configures the engine liveness channel.
	NATS NATSSettings `yaml:"nats"`

	// Stack holds defaults applied to new stacks.
	Stack StackDefaults `yaml:"stack"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LockSettings configures the stack lock backend.
type LockSettings struct {
	// Backend is one of sqlite, redis or postgres.
	Backend string `yaml:"backend" validate:"oneof=sqlite redis postgres"`

	Redis    RedisSettings    `yaml:"redis"`
	Postgres PostgresSettings `yaml:"postgres"`
}

// RedisSettings configures the Redis lock store.
type RedisSettings struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// PostgresSettings configures the Postgres lock store.
type PostgresSettings struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

// NATSSettings configures liveness probing between engines.
type NATSSettings struct {
	// URL of the NATS server; empty disables probing and every lock holder
	// is assumed alive.
	URL string `yaml:"url" validate:"omitempty,url"`

	// ProbeTimeout bounds a single liveness request.
	ProbeTimeout time.Duration `yaml:"probe_timeout" validate:"gte=0"`
}

// StackDefaults are applied to stacks created without explicit values.
type StackDefaults struct {
	// Timeout bounds each stack operation; zero means none.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// PollInterval is the wait between scheduler steps.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// DisableRollback turns off automatic rollback.
	DisableRollback bool `yaml:"disable_rollback"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		DatabasePath: "stackforge.db",
		Lock: LockSettings{
			Backend: LockBackendSQLite,
			Redis: RedisSettings{
				Addr: "localhost:6379",
			},
			Postgres: PostgresSettings{
				MaxConns: 4,
			},
		},
		NATS: NATSSettings{
			ProbeTimeout: 5 * time.Second,
		},
		Stack: StackDefaults{
			Timeout:      60 * time.Minute,
			PollInterval: time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load builds the settings from the defaults, the YAML file at path (if
// any), the dotenv file at envFile and finally STACKFORGE_* environment
// variables. An empty envFile loads ".env" when it exists.
func Load(path, envFile string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}

	if s.EngineID == "" {
		s.EngineID = uuid.NewString()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	switch s.Lock.Backend {
	case LockBackendRedis:
		if s.Lock.Redis.Addr == "" {
			return fmt.Errorf("invalid settings: lock.redis.addr is required for the redis backend")
		}
	case LockBackendPostgres:
		if s.Lock.Postgres.DSN == "" {
			return fmt.Errorf("invalid settings: lock.postgres.dsn is required for the postgres backend")
		}
	}

	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}

// applyEnv overrides fields from STACKFORGE_* variables.
func (s *Settings) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	str("ENGINE_ID", &s.EngineID)
	str("DB_PATH", &s.DatabasePath)
	str("REGION", &s.Region)
	str("LOCK_BACKEND", &s.Lock.Backend)
	str("REDIS_ADDR", &s.Lock.Redis.Addr)
	str("REDIS_PASSWORD", &s.Lock.Redis.Password)
	str("REDIS_PREFIX", &s.Lock.Redis.Prefix)
	str("POSTGRES_DSN", &s.Lock.Postgres.DSN)
	str("NATS_URL", &s.NATS.URL)
	str("LOG_LEVEL", &s.Telemetry.Logging.Level)
	str("LOG_FORMAT", &s.Telemetry.Logging.Format)
	str("METRICS_ADDR", &s.Telemetry.Metrics.ListenAddress)
	str("OTLP_ENDPOINT", &s.Telemetry.Tracing.Endpoint)

	if v, ok := os.LookupEnv(EnvPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREDIS_DB: %w", EnvPrefix, err)
		}
		s.Lock.Redis.DB = db
	}

	durations := map[string]*time.Duration{
		"NATS_PROBE_TIMEOUT": &s.NATS.ProbeTimeout,
		"STACK_TIMEOUT":      &s.Stack.Timeout,
		"POLL_INTERVAL":      &s.Stack.PollInterval,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv(EnvPrefix + "DISABLE_ROLLBACK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDISABLE_ROLLBACK: %w", EnvPrefix, err)
		}
		s.Stack.DisableRollback = b
	}
	return nil
}
