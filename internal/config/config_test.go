package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"LEDGER_BACKEND", "LEDGER_LOCK_TIMEOUT", "LEDGER_LOG_LEVEL", "LEDGER_GRPC_PORT",
	"LEDGER_WAL_PATH", "MYSQL_DSN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
}

// clearEnv 清空會影響 Load 的環境變數，並切到沒有 .env 的目錄
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 50051, cfg.GRPC.Port)
	assert.Equal(t, "wal.log", cfg.Memory.WALPath)
	assert.Equal(t, 100, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.MySQL.ConnMaxLifetime)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.yaml", `
backend: postgres
lock_timeout: 500ms
log:
  level: debug
grpc:
  port: 6000
postgres:
  url: postgres://from-file/ledger
  max_conns: 8
`)
	t.Setenv("DATABASE_URL", "postgres://from-env/ledger")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 6000, cfg.GRPC.Port)
	assert.Equal(t, "postgres://from-env/ledger", cfg.Postgres.URL)
	assert.Equal(t, int32(8), cfg.Postgres.MaxConns)
	assert.Empty(t, cfg.Memory.WALPath)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir, err := os.Getwd()
	require.NoError(t, err)
	writeFile(t, dir, ".env", "LEDGER_BACKEND=redis\nREDIS_ADDR=127.0.0.1:6390\n")
	// godotenv 不覆寫已存在的變數，t.Setenv("") 設下的空值要先移除
	require.NoError(t, os.Unsetenv("LEDGER_BACKEND"))
	require.NoError(t, os.Unsetenv("REDIS_ADDR"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "127.0.0.1:6390", cfg.Redis.Addr)
	assert.Equal(t, 50, cfg.Redis.PoolSize)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"LEDGER_BACKEND": "sqlite"}, "invalid config"},
		{"bad timeout", map[string]string{"LEDGER_LOCK_TIMEOUT": "soon"}, "LEDGER_LOCK_TIMEOUT"},
		{"negative timeout", map[string]string{"LEDGER_LOCK_TIMEOUT": "-1s"}, "invalid config"},
		{"bad port", map[string]string{"LEDGER_GRPC_PORT": "70000"}, "invalid config"},
		{"postgres without url", map[string]string{"LEDGER_BACKEND": "postgres"}, "invalid postgres config"},
		{"mysql without host", map[string]string{"LEDGER_BACKEND": "mysql"}, "invalid mysql config"},
		{"redis bad addr", map[string]string{"LEDGER_BACKEND": "redis", "REDIS_ADDR": "nohost"}, "invalid redis config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}
