package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	memory_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-locked-ledger/internal/config"
	"github.com/JoeShih716/go-locked-ledger/pkg/mysql"
	"github.com/JoeShih716/go-locked-ledger/pkg/postgres"
	"github.com/JoeShih716/go-locked-ledger/pkg/redis"
	"github.com/JoeShih716/go-locked-ledger/pkg/wal"
)

// openStore 依 cfg.Backend 建立 AccountStore，回傳的 close 會釋放底層連線
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (usecase.AccountStore, func(), error) {
	storeLog := log.Named(string(cfg.Backend))

	switch cfg.Backend {
	case config.BackendMemory:
		var walFile *wal.WAL
		if cfg.Memory.WALPath != "" {
			w, err := wal.NewWAL(cfg.Memory.WALPath)
			if err != nil {
				return nil, nil, fmt.Errorf("init WAL: %w", err)
			}
			walFile = w
		}
		ledger, err := memory_adapter.NewMutexLedger(nil, walFile,
			memory_adapter.WithLockTimeout(cfg.LockTimeout),
			memory_adapter.WithLogger(storeLog),
		)
		if err != nil {
			if walFile != nil {
				_ = walFile.Close()
			}
			return nil, nil, fmt.Errorf("init MutexLedger: %w", err)
		}
		return ledger, func() {
			if walFile != nil {
				_ = walFile.Close()
			}
		}, nil

	case config.BackendMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, storeLog)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to MySQL: %w", err)
		}
		ledger := mysql_adapter.NewMySQLLedger(client,
			mysql_adapter.WithLockTimeout(cfg.LockTimeout),
			mysql_adapter.WithLogger(storeLog),
		)
		if err := ledger.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return ledger, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, storeLog)
		if err != nil {
			return nil, nil, err
		}
		ledger := postgres_adapter.NewPostgresLedger(pool,
			postgres_adapter.WithLockTimeout(cfg.LockTimeout),
			postgres_adapter.WithLogger(storeLog),
		)
		if err := ledger.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return ledger, pool.Close, nil

	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.Redis, storeLog)
		if err != nil {
			return nil, nil, err
		}
		ledger := redis_adapter.NewRedisLedger(client,
			redis_adapter.WithLockTimeout(cfg.LockTimeout),
			redis_adapter.WithLogger(storeLog),
		)
		return ledger, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
