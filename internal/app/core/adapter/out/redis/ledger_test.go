package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase/storetest"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLedgerConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, lockTimeout time.Duration) usecase.AccountStore {
		_, client := newTestClient(t)
		return NewRedisLedger(client,
			WithLockTimeout(lockTimeout),
			WithRetryDelay(2*time.Millisecond),
			WithLogger(zaptest.NewLogger(t)),
		)
	})
}

func TestRedisLedgerKeys(t *testing.T) {
	mr, client := newTestClient(t)
	ledger := NewRedisLedger(client, WithPrefix("bank"))
	uc := usecase.NewCoreUseCase(ledger, zaptest.NewLogger(t))
	ctx := context.Background()

	owner := uuid.New()
	account, err := uc.OpenAccount(ctx, owner, "alice", 300)
	require.NoError(t, err)

	key := "bank:account:" + account.ID().String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "300", mr.HGet(key, "balance"))
	assert.Equal(t, "alice", mr.HGet(key, "display_name"))

	members, err := mr.SMembers("bank:owner:" + owner.String())
	require.NoError(t, err)
	assert.Equal(t, []string{account.ID().String()}, members)

	// 鎖在範圍結束後釋放
	assert.False(t, mr.Exists("bank:lock:account:"+account.ID().String()))
}

func TestRedisLedgerJournal(t *testing.T) {
	_, client := newTestClient(t)
	ledger := NewRedisLedger(client)
	uc := usecase.NewCoreUseCase(ledger, zaptest.NewLogger(t))
	ctx := context.Background()

	a, err := uc.OpenAccount(ctx, uuid.New(), "a", 1000)
	require.NoError(t, err)
	b, err := uc.OpenAccount(ctx, uuid.New(), "b", 0)
	require.NoError(t, err)
	require.NoError(t, uc.Transfer(ctx, a.ID(), b.ID(), 300))
	_, err = uc.Debit(ctx, b.ID(), 100)
	require.NoError(t, err)
	_, err = uc.Debit(ctx, b.ID(), 1000)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	journal, err := ledger.Journal(ctx)
	require.NoError(t, err)
	require.Len(t, journal, 3)
	for i, tran := range journal {
		assert.Equal(t, uint64(i+1), tran.Sequence)
	}
	assert.Equal(t, domain.TransactionTypeDeposit, journal[0].Type)
	assert.Equal(t, domain.TransactionTypeTransfer, journal[1].Type)
	assert.Equal(t, a.ID(), journal[1].From)
	assert.Equal(t, b.ID(), journal[1].To)
	assert.Equal(t, domain.TransactionTypeWithdraw, journal[2].Type)
	assert.Equal(t, int64(100), journal[2].Amount)
}

func TestRedisLedgerSharedAcrossInstances(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	first := NewRedisLedger(client, WithRetryDelay(2*time.Millisecond))
	second := NewRedisLedger(client, WithRetryDelay(2*time.Millisecond), WithLockTimeout(100*time.Millisecond))

	account, err := usecase.NewCoreUseCase(first, nil).OpenAccount(ctx, uuid.New(), "shared", 100)
	require.NoError(t, err)

	tx, err := first.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.FetchForUpdate(ctx, account.ID(), domain.LockWait)
	require.NoError(t, err)

	other := usecase.NewCoreUseCase(second, nil)
	_, err = other.TryCredit(ctx, account.ID(), 1)
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)
	_, err = other.Credit(ctx, account.ID(), 1)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	require.NoError(t, tx.Rollback(ctx))
	b, err := other.TryCredit(ctx, account.ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), b.Amount())
}

func TestRedisLedgerInsertDuplicate(t *testing.T) {
	_, client := newTestClient(t)
	ledger := NewRedisLedger(client)
	ctx := context.Background()

	account, err := domain.NewAccount(uuid.New(), "dup", 0)
	require.NoError(t, err)
	scope := usecase.NewScope(ledger, nil)
	require.NoError(t, scope.Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		return tx.Insert(ctx, account)
	}))

	err = scope.Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		return tx.Insert(ctx, account.Clone())
	})
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)
}

func TestIsLockContention(t *testing.T) {
	assert.True(t, isLockContention(redsync.ErrFailed))
	assert.True(t, isLockContention(fmt.Errorf("wrapped: %w", redsync.ErrFailed)))
	assert.True(t, isLockContention(&redsync.ErrTaken{Nodes: []int{0}}))
	assert.False(t, isLockContention(errors.New("connection refused")))
}

func TestDecodeAccount(t *testing.T) {
	id := uuid.New()
	_, err := decodeAccount(id, map[string]string{})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	account, err := domain.NewAccount(uuid.New(), "round", 42)
	require.NoError(t, err)
	fields := make(map[string]string)
	for k, v := range encodeAccount(account) {
		fields[k] = fmt.Sprint(v)
	}
	decoded, err := decodeAccount(account.ID(), fields)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.Balance().Amount())
	assert.Equal(t, account.OwnerID, decoded.OwnerID)
	assert.True(t, account.CreatedAt.Equal(decoded.CreatedAt))

	fields["balance"] = "-1"
	_, err = decodeAccount(account.ID(), fields)
	assert.Error(t, err)
}
