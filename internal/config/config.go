package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-locked-ledger/pkg/mysql"
	"github.com/JoeShih716/go-locked-ledger/pkg/postgres"
	"github.com/JoeShih716/go-locked-ledger/pkg/redis"
)

// Backend 帳本的儲存實作
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

const (
	DefaultPath        = "config/config.yaml"
	defaultLockTimeout = 3 * time.Second
	defaultGRPCPort    = 50051
	defaultWALPath     = "wal.log"
)

type Config struct {
	Backend     Backend       `yaml:"backend" validate:"oneof=memory mysql postgres redis"`
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`

	Log      LogConfig       `yaml:"log"`
	GRPC     GRPCConfig      `yaml:"grpc"`
	Memory   MemoryConfig    `yaml:"memory"`
	MySQL    mysql.Config    `yaml:"mysql" validate:"-"`
	Postgres postgres.Config `yaml:"postgres" validate:"-"`
	Redis    redis.Config    `yaml:"redis" validate:"-"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type GRPCConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type MemoryConfig struct {
	// WALPath 空字串代表不寫 WAL (重啟後資料消失)
	WALPath string `yaml:"wal_path"`
}

var validate = validator.New()

// Load 讀取設定
//
// 順序: YAML 檔 (path 為空則略過) -> .env (不存在則略過) -> 環境變數覆寫 -> 預設值 -> 驗證
//
// 參數:
//
//	path: YAML 設定檔路徑
//
// 回傳值:
//
//	*Config: 設定
//	error: 讀檔、解析或驗證失敗
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LEDGER_BACKEND"); v != "" {
		c.Backend = Backend(v)
	}
	if v := os.Getenv("LEDGER_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEDGER_LOCK_TIMEOUT: %w", err)
		}
		c.LockTimeout = d
	}
	if v := os.Getenv("LEDGER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LEDGER_GRPC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_GRPC_PORT: %w", err)
		}
		c.GRPC.Port = port
	}
	if v := os.Getenv("LEDGER_WAL_PATH"); v != "" {
		c.Memory.WALPath = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.MySQL.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	return nil
}

// applyDefaults 補全沒有設定的欄位
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.GRPC.Port == 0 {
		c.GRPC.Port = defaultGRPCPort
	}
	if c.Backend == BackendMemory && c.Memory.WALPath == "" {
		c.Memory.WALPath = defaultWALPath
	}

	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.MySQL.ConnectRetries == 0 {
		c.MySQL.ConnectRetries = 5
	}
	if c.MySQL.RetryInterval == 0 {
		c.MySQL.RetryInterval = 2 * time.Second
	}

	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 50
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
}

// Validate 檢查設定，只驗證目前選用的 backend
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var err error
	switch c.Backend {
	case BackendMySQL:
		err = validate.Struct(c.MySQL)
	case BackendPostgres:
		err = validate.Struct(c.Postgres)
	case BackendRedis:
		err = validate.Struct(c.Redis)
	}
	if err != nil {
		return fmt.Errorf("invalid %s config: %w", c.Backend, err)
	}
	return nil
}
