// Package storetest 提供 usecase.AccountStore 實作共用的行為測試
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
)

// Factory 依指定的 WAIT 上限建立一個乾淨的 AccountStore
type Factory func(t *testing.T, lockTimeout time.Duration) usecase.AccountStore

// 一般情境使用的等待上限，遠大於任何一次上鎖區間
const relaxedTimeout = 10 * time.Second

// Run 對 newStore 建立的 store 執行所有行為測試
func Run(t *testing.T, newStore Factory) {
	t.Run("CreditDebitExact", func(t *testing.T) { testCreditDebitExact(t, newStore) })
	t.Run("FailedDebitLeavesBalance", func(t *testing.T) { testFailedDebitLeavesBalance(t, newStore) })
	t.Run("ConcurrentCredits", func(t *testing.T) { testConcurrentCredits(t, newStore) })
	t.Run("ReverseTransfers", func(t *testing.T) { testReverseTransfers(t, newStore) })
	t.Run("TransferAtomicity", func(t *testing.T) { testTransferAtomicity(t, newStore) })
	t.Run("NoWaitContention", func(t *testing.T) { testNoWaitContention(t, newStore) })
	t.Run("WaitTimeout", func(t *testing.T) { testWaitTimeout(t, newStore) })
	t.Run("CancelledWait", func(t *testing.T) { testCancelledWait(t, newStore) })
	t.Run("SelfTransferTakesNoLock", func(t *testing.T) { testSelfTransferTakesNoLock(t, newStore) })
	t.Run("ScopeRollback", func(t *testing.T) { testScopeRollback(t, newStore) })
	t.Run("NestedScopeJoins", func(t *testing.T) { testNestedScopeJoins(t, newStore) })
	t.Run("NestedFailureRollsBack", func(t *testing.T) { testNestedFailureRollsBack(t, newStore) })
	t.Run("TransferInLockHoldingScope", func(t *testing.T) { testTransferInLockHoldingScope(t, newStore) })
	t.Run("FetchTwiceReturnsHeld", func(t *testing.T) { testFetchTwiceReturnsHeld(t, newStore) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore) })
	t.Run("OpenAndList", func(t *testing.T) { testOpenAndList(t, newStore) })
	t.Run("Overflow", func(t *testing.T) { testOverflow(t, newStore) })
}

func newCore(t *testing.T, newStore Factory, lockTimeout time.Duration) *usecase.CoreUseCase {
	return usecase.NewCoreUseCase(newStore(t, lockTimeout), zaptest.NewLogger(t))
}

func open(t *testing.T, uc *usecase.CoreUseCase, initial int64) uuid.UUID {
	t.Helper()
	account, err := uc.OpenAccount(context.Background(), uuid.New(), "test", initial)
	require.NoError(t, err)
	return account.ID()
}

func balanceOf(t *testing.T, uc *usecase.CoreUseCase, id uuid.UUID) int64 {
	t.Helper()
	b, err := uc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Amount()
}

// holdLock 在另一個範圍中持有 id 的鎖，直到回傳的 release 被呼叫
// 範圍結束時對帳戶存入 credit (0 代表不異動)
func holdLock(t *testing.T, uc *usecase.CoreUseCase, id uuid.UUID, credit int64) (release func() error) {
	t.Helper()
	held := make(chan struct{})
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return uc.Scope().Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
			account, err := tx.FetchForUpdate(ctx, id, domain.LockWait)
			if err != nil {
				close(held)
				return err
			}
			close(held)
			<-done
			if credit > 0 {
				return account.Credit(credit)
			}
			return nil
		})
	})
	<-held
	return func() error {
		close(done)
		return g.Wait()
	}
}

func testCreditDebitExact(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	id := open(t, uc, 0)

	b, err := uc.Credit(ctx, id, 700)
	require.NoError(t, err)
	assert.Equal(t, int64(700), b.Amount())

	b, err = uc.Debit(ctx, id, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(400), b.Amount())
	assert.Equal(t, int64(400), balanceOf(t, uc, id))

	_, err = uc.Credit(ctx, id, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = uc.Debit(ctx, id, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func testFailedDebitLeavesBalance(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()

	empty := open(t, uc, 0)
	_, err := uc.Debit(ctx, empty, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(0), balanceOf(t, uc, empty))

	id := open(t, uc, 500)
	for range 3 {
		_, err := uc.Debit(ctx, id, 501)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, int64(500), balanceOf(t, uc, id))
	}
}

func testConcurrentCredits(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	id := open(t, uc, 0)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(16)
	for range 100 {
		g.Go(func() error {
			_, err := uc.Credit(ctx, id, 1000)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(100000), balanceOf(t, uc, id))
}

func testReverseTransfers(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	a := open(t, uc, 10000)
	b := open(t, uc, 10000)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(16)
	for i := range 100 {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		g.Go(func() error {
			return uc.Transfer(ctx, from, to, 10)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(10000), balanceOf(t, uc, a))
	assert.Equal(t, int64(10000), balanceOf(t, uc, b))
}

// 只有 a→b 的轉帳時，先讀 a 再讀 b 的總和不可能小於初始總和，
// 除非看到了「a 已扣款、b 尚未入帳」的中間狀態
func testTransferAtomicity(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	a := open(t, uc, 5000)
	b := open(t, uc, 0)
	const total = int64(5000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readers errgroup.Group
	for range 4 {
		readers.Go(func() error {
			for ctx.Err() == nil {
				ba, err := uc.GetBalance(context.Background(), a)
				if err != nil {
					return err
				}
				bb, err := uc.GetBalance(context.Background(), b)
				if err != nil {
					return err
				}
				if sum := ba.Amount() + bb.Amount(); sum < total {
					return errors.New("observed debit without matching credit")
				}
			}
			return nil
		})
	}

	var writers errgroup.Group
	writers.SetLimit(8)
	for range 100 {
		writers.Go(func() error {
			return uc.Transfer(context.Background(), a, b, 50)
		})
	}
	require.NoError(t, writers.Wait())
	cancel()
	require.NoError(t, readers.Wait())

	assert.Equal(t, int64(0), balanceOf(t, uc, a))
	assert.Equal(t, total, balanceOf(t, uc, b))
}

func testNoWaitContention(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	x := open(t, uc, 1000)
	y := open(t, uc, 1000)

	release := holdLock(t, uc, x, 1)

	start := time.Now()
	_, err := uc.TryCredit(ctx, x, 500)
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)
	assert.True(t, domain.IsRetryable(err))
	_, err = uc.TryDebit(ctx, x, 500)
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)
	err = uc.TryTransfer(ctx, y, x, 500)
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)
	assert.Less(t, time.Since(start), relaxedTimeout/2)

	require.NoError(t, release())
	assert.Equal(t, int64(1001), balanceOf(t, uc, x))
	assert.Equal(t, int64(1000), balanceOf(t, uc, y))

	b, err := uc.TryCredit(ctx, x, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1501), b.Amount())
}

func testWaitTimeout(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, time.Second)
	x := open(t, uc, 100)

	release := holdLock(t, uc, x, 0)
	_, err := uc.Credit(context.Background(), x, 10)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	require.NoError(t, release())

	assert.Equal(t, int64(100), balanceOf(t, uc, x))
}

func testCancelledWait(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	x := open(t, uc, 100)

	release := holdLock(t, uc, x, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := uc.Credit(ctx, x, 10)
	assert.Error(t, err)
	require.NoError(t, release())

	assert.Equal(t, int64(100), balanceOf(t, uc, x))
	// 被取消的等待沒有留下任何鎖
	_, err = uc.TryCredit(context.Background(), x, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), balanceOf(t, uc, x))
}

func testSelfTransferTakesNoLock(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	x := open(t, uc, 100)

	release := holdLock(t, uc, x, 0)
	start := time.Now()
	for _, amount := range []int64{-1, 0, 1, 100, 1000} {
		err := uc.Transfer(context.Background(), x, x, amount)
		assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
	}
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, release())
	assert.Equal(t, int64(100), balanceOf(t, uc, x))
}

func testScopeRollback(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	x := open(t, uc, 100)
	boom := errors.New("boom")

	err := uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		account, err := tx.FetchForUpdate(ctx, x, domain.LockWait)
		if err != nil {
			return err
		}
		if err := account.Credit(50); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(100), balanceOf(t, uc, x))

	assert.PanicsWithValue(t, "panic inside scope", func() {
		_ = uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
			account, err := tx.FetchForUpdate(ctx, x, domain.LockWait)
			if err != nil {
				return err
			}
			_ = account.Credit(50)
			panic("panic inside scope")
		})
	})
	assert.Equal(t, int64(100), balanceOf(t, uc, x))

	// 兩次失敗後鎖都已釋放
	_, err = uc.TryCredit(ctx, x, 1)
	require.NoError(t, err)
}

func testNestedScopeJoins(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	a := open(t, uc, 1000)
	b := open(t, uc, 0)
	abort := errors.New("abort")

	err := uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		if _, err := uc.Debit(ctx, a, 400); err != nil {
			return err
		}
		if _, err := uc.Credit(ctx, b, 400); err != nil {
			return err
		}
		// 內層操作尚未提交
		assert.Equal(t, int64(1000), balanceOf(t, uc, a))
		return abort
	})
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, int64(1000), balanceOf(t, uc, a))
	assert.Equal(t, int64(0), balanceOf(t, uc, b))

	err = uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		if err := uc.Transfer(ctx, a, b, 250); err != nil {
			return err
		}
		_, err := uc.Credit(ctx, b, 5)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(750), balanceOf(t, uc, a))
	assert.Equal(t, int64(255), balanceOf(t, uc, b))
}

func testNestedFailureRollsBack(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	a := open(t, uc, 100)
	b := open(t, uc, math.MaxInt64)

	// 外層忽略內層錯誤，已扣款的 a 仍不能被提交
	err := uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		err := uc.Transfer(ctx, a, b, 10)
		assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, int64(100), balanceOf(t, uc, a))
	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, uc, b))

	// 鎖已隨 rollback 釋放
	balance, err := uc.TryCredit(ctx, a, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), balance.Amount())
}

func testTransferInLockHoldingScope(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	a := open(t, uc, 100)
	b := open(t, uc, 100)

	err := uc.Scope().Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		if _, err := uc.Credit(ctx, b, 1); err != nil {
			return err
		}
		err := uc.Transfer(ctx, a, b, 10)
		assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), balanceOf(t, uc, a))
	assert.Equal(t, int64(101), balanceOf(t, uc, b))
}

func testFetchTwiceReturnsHeld(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, time.Second)
	x := open(t, uc, 10)

	err := uc.Scope().Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		first, err := tx.FetchForUpdate(ctx, x, domain.LockWait)
		if err != nil {
			return err
		}
		if err := first.Credit(5); err != nil {
			return err
		}
		second, err := tx.FetchForUpdate(ctx, x, domain.LockNoWait)
		if err != nil {
			return err
		}
		assert.Same(t, first, second)
		assert.Equal(t, int64(15), second.Balance().Amount())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), balanceOf(t, uc, x))
}

func testNotFound(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	missing := uuid.New()
	x := open(t, uc, 100)

	_, err := uc.Credit(ctx, missing, 1)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = uc.GetBalance(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = uc.GetAccount(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	err = uc.Transfer(ctx, x, missing, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, int64(100), balanceOf(t, uc, x))
}

func testOpenAndList(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	ctx := context.Background()
	owner := uuid.New()

	_, err := uc.OpenAccount(ctx, owner, "negative", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	first, err := uc.OpenAccount(ctx, owner, "checking", 0)
	require.NoError(t, err)
	second, err := uc.OpenAccount(ctx, owner, "savings", 250)
	require.NoError(t, err)
	_, err = uc.OpenAccount(ctx, uuid.New(), "someone else", 1)
	require.NoError(t, err)

	got, err := uc.GetAccount(ctx, second.ID())
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, "savings", got.DisplayName)
	assert.Equal(t, int64(250), got.Balance().Amount())

	list, err := uc.ListAccounts(ctx, owner)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID())
	}
	assert.ElementsMatch(t, []uuid.UUID{first.ID(), second.ID()}, ids)

	list, err = uc.ListAccounts(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testOverflow(t *testing.T, newStore Factory) {
	uc := newCore(t, newStore, relaxedTimeout)
	x := open(t, uc, math.MaxInt64)

	_, err := uc.Credit(context.Background(), x, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, uc, x))
}
