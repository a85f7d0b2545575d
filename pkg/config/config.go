// Package config loads hitcounter settings from a YAML file laid over
// built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aluko123/hitcounter/counter"
	"github.com/aluko123/hitcounter/proxy"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendDynamoDB = "dynamodb"
)

// Downstream kinds
const (
	DownstreamHTTP   = "http"
	DownstreamGRPC   = "grpc"
	DownstreamLambda = "lambda"
)

// Run modes
const (
	ModeHTTP   = "http"
	ModeLambda = "lambda"
)

type Config struct {
	Listen       string           `yaml:"listen"`
	Mode         string           `yaml:"mode"`
	Debug        bool             `yaml:"debug"`
	Policy       string           `yaml:"policy"`
	MaxBodyBytes int64            `yaml:"max_body_bytes"`
	Log          LogConfig        `yaml:"log"`
	Store        StoreConfig      `yaml:"store"`
	Downstream   DownstreamConfig `yaml:"downstream"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	// File enables size-rotated file output instead of stdout
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Timeout  time.Duration  `yaml:"timeout"`
	Retry    RetryConfig    `yaml:"retry"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	DynamoDB DynamoConfig   `yaml:"dynamodb"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	HashKey  string `yaml:"hash_key"`
}

type PostgresConfig struct {
	URL          string `yaml:"url"`
	Table        string `yaml:"table"`
	CreateSchema bool   `yaml:"create_schema"`
}

type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	CreateSchema bool   `yaml:"create_schema"`
}

type DynamoConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type DownstreamConfig struct {
	Kind    string        `yaml:"kind"`
	Timeout time.Duration `yaml:"timeout"`
	// http
	URL              string `yaml:"url"`
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
	// grpc
	Address string `yaml:"address"`
	// lambda
	Function string `yaml:"function"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given: an
// in-memory store in front of a local HTTP downstream
func Default() Config {
	hc := proxy.DefaultConfig()
	retry := counter.DefaultRetryPolicy()
	return Config{
		Listen:       ":8080",
		Mode:         ModeHTTP,
		Policy:       string(hc.Policy),
		MaxBodyBytes: 10 << 20,
		Log: LogConfig{
			Format:     "json",
			Level:      "INFO",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Timeout: hc.StoreTimeout,
			Retry: RetryConfig{
				MaxAttempts:     retry.MaxAttempts,
				InitialInterval: retry.InitialInterval,
				MaxInterval:     retry.MaxInterval,
			},
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				HashKey: counter.DefaultRedisHashKey,
			},
			Postgres: PostgresConfig{Table: counter.DefaultTable},
			MySQL:    MySQLConfig{Table: counter.DefaultTable},
			DynamoDB: DynamoConfig{Table: "hits"},
		},
		Downstream: DownstreamConfig{
			Kind:             DownstreamHTTP,
			Timeout:          hc.DownstreamTimeout,
			URL:              "http://localhost:8081",
			MaxResponseBytes: 10 << 20,
		},
	}
}

// Load reads the YAML file at path over Default. An empty path returns
// the defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML data over Default and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects unknown backends and kinds, and settings no component
// could run with
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeHTTP:
		if c.Listen == "" {
			errs = append(errs, errors.New("listen address is required in http mode"))
		}
	case ModeLambda:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	if _, err := proxy.ParseFailurePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}

	s := c.Store
	switch s.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case BackendPostgres:
		if s.Postgres.URL == "" {
			errs = append(errs, errors.New("store.postgres.url is required"))
		}
	case BackendMySQL:
		if s.MySQL.DSN == "" {
			errs = append(errs, errors.New("store.mysql.dsn is required"))
		}
	case BackendDynamoDB:
		if s.DynamoDB.Table == "" {
			errs = append(errs, errors.New("store.dynamodb.table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", s.Backend))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("store.retry.max_attempts must be at least 1"))
	}
	if s.Retry.InitialInterval < 0 || s.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("store.retry intervals must not be negative"))
	}

	d := c.Downstream
	switch d.Kind {
	case DownstreamHTTP:
		if d.URL == "" {
			errs = append(errs, errors.New("downstream.url is required"))
		}
	case DownstreamGRPC:
		if d.Address == "" {
			errs = append(errs, errors.New("downstream.address is required"))
		}
	case DownstreamLambda:
		if d.Function == "" {
			errs = append(errs, errors.New("downstream.function is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown downstream kind %q", d.Kind))
	}
	if d.Timeout <= 0 {
		errs = append(errs, errors.New("downstream.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// HitCounter returns the proxy settings
func (c Config) HitCounter() proxy.Config {
	policy, _ := proxy.ParseFailurePolicy(c.Policy)
	return proxy.Config{
		StoreTimeout:      c.Store.Timeout,
		DownstreamTimeout: c.Downstream.Timeout,
		Policy:            policy,
	}
}

// RetryPolicy returns the store retry settings
func (c Config) RetryPolicy() counter.RetryPolicy {
	return counter.RetryPolicy{
		MaxAttempts:     c.Store.Retry.MaxAttempts,
		InitialInterval: c.Store.Retry.InitialInterval,
		MaxInterval:     c.Store.Retry.MaxInterval,
	}
}
