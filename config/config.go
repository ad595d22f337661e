// Package config reads the configuration of the projector worker from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
)

var (
	// ErrInvalidConfig is returned when a parsed value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingDatabaseURL is returned without a database URL; for sqlite it is the database file DSN.
	ErrMissingDatabaseURL = errors.New("PROJECTIONS_DATABASE_URL is required")
)

// Config is the complete worker configuration.
type Config struct {
	DatabaseURL        string        `env:"PROJECTIONS_DATABASE_URL"`
	ReplicaDatabaseURL string        `env:"PROJECTIONS_REPLICA_DATABASE_URL"`
	Dialect            string        `env:"PROJECTIONS_DIALECT"            envDefault:"postgres"`
	EventsTable        string        `env:"PROJECTIONS_EVENTS_TABLE"       envDefault:"events"`
	ItemsTable         string        `env:"PROJECTIONS_ITEMS_TABLE"        envDefault:"items"`
	IndexPrefix        string        `env:"PROJECTIONS_INDEX_PREFIX"       envDefault:"projection_"`
	RedisAddr          string        `env:"PROJECTIONS_REDIS_ADDR"`
	ReplayChunkSize    int           `env:"PROJECTIONS_REPLAY_CHUNK_SIZE"  envDefault:"1000"`
	StallThreshold     time.Duration `env:"PROJECTIONS_STALL_THRESHOLD"    envDefault:"5m"`
	LockPrecision      time.Duration `env:"PROJECTIONS_LOCK_PRECISION"     envDefault:"1s"`
	RebuildInterval    time.Duration `env:"PROJECTIONS_REBUILD_INTERVAL"   envDefault:"30s"`
	TailInterval       time.Duration `env:"PROJECTIONS_TAIL_INTERVAL"      envDefault:"1s"`
	InstanceName       string        `env:"PROJECTIONS_INSTANCE_NAME"      envDefault:"projector"`
	LogLevel           string        `env:"PROJECTIONS_LOG_LEVEL"          envDefault:"info"`
	MaxConns           int32         `env:"PROJECTIONS_DB_MAX_CONNS"       envDefault:"20"`
	MinConns           int32         `env:"PROJECTIONS_DB_MIN_CONNS"       envDefault:"2"`
	ConnectTimeout     time.Duration `env:"PROJECTIONS_DB_CONNECT_TIMEOUT" envDefault:"5s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(options env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, options); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}

	if _, err := sqlengine.ParseDialect(c.Dialect); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.ReplicaDatabaseURL != "" && c.SQLDialect() != sqlengine.DialectPostgres {
		return fmt.Errorf("%w: PROJECTIONS_REPLICA_DATABASE_URL needs the postgres dialect", ErrInvalidConfig)
	}

	switch {
	case c.ReplayChunkSize <= 0:
		return fmt.Errorf("%w: PROJECTIONS_REPLAY_CHUNK_SIZE must be positive", ErrInvalidConfig)
	case c.StallThreshold <= 0:
		return fmt.Errorf("%w: PROJECTIONS_STALL_THRESHOLD must be positive", ErrInvalidConfig)
	case c.LockPrecision <= 0:
		return fmt.Errorf("%w: PROJECTIONS_LOCK_PRECISION must be positive", ErrInvalidConfig)
	case c.RebuildInterval <= 0:
		return fmt.Errorf("%w: PROJECTIONS_REBUILD_INTERVAL must be positive", ErrInvalidConfig)
	case c.TailInterval <= 0:
		return fmt.Errorf("%w: PROJECTIONS_TAIL_INTERVAL must be positive", ErrInvalidConfig)
	case c.InstanceName == "":
		return fmt.Errorf("%w: PROJECTIONS_INSTANCE_NAME must not be empty", ErrInvalidConfig)
	case c.MinConns < 0 || c.MaxConns < c.MinConns || c.MaxConns == 0:
		return fmt.Errorf("%w: need 0 <= PROJECTIONS_DB_MIN_CONNS <= PROJECTIONS_DB_MAX_CONNS, max > 0", ErrInvalidConfig)
	}

	return nil
}

// SQLDialect returns the validated dialect.
func (c Config) SQLDialect() sqlengine.Dialect {
	dialect, _ := sqlengine.ParseDialect(c.Dialect)
	return dialect
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return level, errors.Join(ErrInvalidConfig, err)
	}

	return level, nil
}

// PGXPoolConfig builds the pool configuration for the postgres dialect.
func (c Config) PGXPoolConfig() (*pgxpool.Config, error) {
	return c.pgxPoolConfig(c.DatabaseURL)
}

// ReplicaPGXPoolConfig builds the pool configuration of the read replica.
func (c Config) ReplicaPGXPoolConfig() (*pgxpool.Config, error) {
	return c.pgxPoolConfig(c.ReplicaDatabaseURL)
}

func (c Config) pgxPoolConfig(url string) (*pgxpool.Config, error) {
	const (
		defaultMaxConnLifetime   = time.Hour
		defaultMaxConnIdleTime   = 5 * time.Minute
		defaultHealthCheckPeriod = time.Minute
	)

	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	dbConfig.MaxConns = c.MaxConns
	dbConfig.MinConns = c.MinConns
	dbConfig.MaxConnLifetime = defaultMaxConnLifetime
	dbConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	dbConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout

	return dbConfig, nil
}
