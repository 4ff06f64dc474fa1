package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 定義 Redis 連線配置
type Config struct {
	Addr     string `yaml:"addr" validate:"required,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	PoolSize int    `yaml:"pool_size" validate:"min=0"`
}

// NewClient 建立 Redis 客戶端並確認可以連線
//
// 參數:
//
//	ctx: 上下文
//	cfg: 連線配置
//	log: logger (可為 nil)
//
// 回傳值:
//
//	*goredis.Client: Redis 客戶端
//	error: 連線失敗
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*goredis.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", cfg.Addr, err)
	}
	log.Info("redis client ready", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}
