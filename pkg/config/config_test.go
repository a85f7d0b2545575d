package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluko123/hitcounter/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Downstream.Timeout)
	assert.Equal(t, proxy.FailClosed, cfg.HitCounter().Policy)
	assert.Equal(t, 2, cfg.RetryPolicy().MaxAttempts)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hitcounter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
policy: fail_open
log:
  level: debug
store:
  backend: redis
  timeout: 500ms
  retry:
    max_attempts: 4
  redis:
    addr: redis:6379
downstream:
  kind: grpc
  address: hello:9000
  timeout: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "hitcounter:hits", cfg.Store.Redis.HashKey)
	assert.Equal(t, 4, cfg.Store.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.Retry.InitialInterval)

	hc := cfg.HitCounter()
	assert.Equal(t, proxy.FailOpen, hc.Policy)
	assert.Equal(t, 500*time.Millisecond, hc.StoreTimeout)
	assert.Equal(t, 2*time.Second, hc.DownstreamTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("lisen: \":80\"\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "grpc" }},
		{"bad policy", func(c *Config) { c.Policy = "sometimes" }},
		{"bad backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"postgres without url", func(c *Config) { c.Store.Backend = BackendPostgres }},
		{"mysql without dsn", func(c *Config) { c.Store.Backend = BackendMySQL }},
		{"zero store timeout", func(c *Config) { c.Store.Timeout = 0 }},
		{"zero attempts", func(c *Config) { c.Store.Retry.MaxAttempts = 0 }},
		{"bad downstream", func(c *Config) { c.Downstream.Kind = "smtp" }},
		{"lambda without function", func(c *Config) { c.Downstream.Kind = DownstreamLambda }},
		{"grpc without address", func(c *Config) { c.Downstream.Kind = DownstreamGRPC }},
		{"zero downstream timeout", func(c *Config) { c.Downstream.Timeout = 0 }},
		{"no listen", func(c *Config) { c.Listen = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("lambda mode needs no listen", func(t *testing.T) {
		cfg := Default()
		cfg.Mode = ModeLambda
		cfg.Listen = ""
		assert.NoError(t, cfg.Validate())
	})
}
