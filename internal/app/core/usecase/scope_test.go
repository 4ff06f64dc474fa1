package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
)

// spyStore 記錄 Begin/Commit/Rollback 次數與上鎖順序
type spyStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*domain.Account
	begins    int
	commits   int
	rollbacks int
	locked    []uuid.UUID
	beginErr  error
	commitErr error
}

func newSpyStore(accounts ...*domain.Account) *spyStore {
	s := &spyStore{accounts: make(map[uuid.UUID]*domain.Account)}
	for _, a := range accounts {
		s.accounts[a.ID()] = a
	}
	return s
}

func (s *spyStore) Begin(ctx context.Context) (usecase.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.begins++
	return &spyTx{store: s, held: make(map[uuid.UUID]*domain.Account)}, nil
}

func (s *spyStore) Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *spyStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	return nil, nil
}

type spyTx struct {
	store   *spyStore
	held    map[uuid.UUID]*domain.Account
	journal []*domain.Transaction
	closed  bool
}

func (t *spyTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	if a, ok := t.held[id]; ok {
		return a, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	t.store.locked = append(t.store.locked, id)
	t.held[id] = a.Clone()
	return t.held[id], nil
}

func (t *spyTx) Insert(ctx context.Context, account *domain.Account) error {
	t.held[account.ID()] = account
	return nil
}

func (t *spyTx) Record(tran *domain.Transaction) {
	t.journal = append(t.journal, tran)
}

func (t *spyTx) Commit(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.commits++
	for id, a := range t.held {
		t.store.accounts[id] = a
	}
	return nil
}

func (t *spyTx) Rollback(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	return nil
}

func TestScopeCommitsOnSuccess(t *testing.T) {
	store := newSpyStore()
	scope := usecase.NewScope(store, nil)

	err := scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		got, ok := usecase.TxFromContext(ctx)
		assert.True(t, ok)
		assert.Same(t, tx, got)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.begins)
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 0, store.rollbacks)
}

func TestScopeRollsBackOnError(t *testing.T) {
	store := newSpyStore()
	scope := usecase.NewScope(store, nil)
	boom := errors.New("boom")

	err := scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 1, store.rollbacks)
}

func TestScopeRollsBackOnPanic(t *testing.T) {
	store := newSpyStore()
	scope := usecase.NewScope(store, nil)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 1, store.rollbacks)
}

func TestScopeRollsBackWhenCancelled(t *testing.T) {
	store := newSpyStore()
	scope := usecase.NewScope(store, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := scope.Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.rollbacks)
}

func TestScopeCommitFailure(t *testing.T) {
	store := newSpyStore()
	store.commitErr = errors.New("disk full")
	scope := usecase.NewScope(store, nil)

	err := scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, store.commitErr)
	assert.Contains(t, err.Error(), "commit transaction")
	// Commit 已經關閉交易，rollback 只會拿到 ErrTransactionClosed
	assert.Equal(t, 0, store.rollbacks)
}

func TestScopeBeginFailure(t *testing.T) {
	store := newSpyStore()
	store.beginErr = errors.New("no connection")
	scope := usecase.NewScope(store, nil)

	called := false
	err := scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, store.beginErr)
	assert.False(t, called)
}

func TestNestedScopeJoinsOuter(t *testing.T) {
	store := newSpyStore()
	scope := usecase.NewScope(store, nil)

	err := scope.Run(context.Background(), func(ctx context.Context, outer usecase.Tx) error {
		return scope.Run(ctx, func(ctx context.Context, inner usecase.Tx) error {
			assert.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.begins)
	assert.Equal(t, 1, store.commits)
}

func TestCoordinatorLocksInIDOrder(t *testing.T) {
	low, err := domain.RestoreAccount(uuid.MustParse("00000000-0000-0000-0000-0000000000aa"), uuid.New(), "low", 500, time.Time{})
	require.NoError(t, err)
	high, err := domain.RestoreAccount(uuid.MustParse("ffffffff-0000-0000-0000-0000000000bb"), uuid.New(), "high", 500, time.Time{})
	require.NoError(t, err)
	store := newSpyStore(low, high)
	coordinator := usecase.NewTransferCoordinator(usecase.NewScope(store, nil), nil)

	tran, err := coordinator.Transfer(context.Background(), high.ID(), low.ID(), 200, domain.LockWait)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeTransfer, tran.Type)
	_, err = coordinator.Transfer(context.Background(), low.ID(), high.ID(), 50, domain.LockWait)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{low.ID(), high.ID(), low.ID(), high.ID()}, store.locked)
	assert.Equal(t, int64(650), store.accounts[low.ID()].Balance().Amount())
	assert.Equal(t, int64(350), store.accounts[high.ID()].Balance().Amount())
}

func TestCoordinatorRejectsBeforeLocking(t *testing.T) {
	a, err := domain.NewAccount(uuid.New(), "a", 100)
	require.NoError(t, err)
	store := newSpyStore(a)
	coordinator := usecase.NewTransferCoordinator(usecase.NewScope(store, nil), nil)

	_, err = coordinator.Transfer(context.Background(), a.ID(), a.ID(), 10, domain.LockWait)
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
	_, err = coordinator.Transfer(context.Background(), a.ID(), uuid.New(), 0, domain.LockWait)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Empty(t, store.locked)
	assert.Equal(t, 0, store.begins)
}

func TestCoordinatorInsufficientFundsRollsBack(t *testing.T) {
	a, err := domain.NewAccount(uuid.New(), "a", 100)
	require.NoError(t, err)
	b, err := domain.NewAccount(uuid.New(), "b", 0)
	require.NoError(t, err)
	store := newSpyStore(a, b)
	coordinator := usecase.NewTransferCoordinator(usecase.NewScope(store, nil), nil)

	_, err = coordinator.Transfer(context.Background(), a.ID(), b.ID(), 101, domain.LockWait)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, store.rollbacks)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, int64(100), store.accounts[a.ID()].Balance().Amount())
	assert.Equal(t, int64(0), store.accounts[b.ID()].Balance().Amount())
}

func TestNestedFailureRollsBackOuter(t *testing.T) {
	a, err := domain.NewAccount(uuid.New(), "a", 100)
	require.NoError(t, err)
	store := newSpyStore(a)
	scope := usecase.NewScope(store, nil)
	boom := errors.New("boom")

	innerCalls := 0
	err = scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		account, err := tx.FetchForUpdate(ctx, a.ID(), domain.LockWait)
		require.NoError(t, err)
		require.NoError(t, account.Debit(40))

		innerErr := scope.Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
			innerCalls++
			return boom
		})
		assert.Same(t, boom, innerErr)

		// 範圍已經只能 rollback，之後加入的操作不會執行
		again := scope.Run(ctx, func(ctx context.Context, tx usecase.Tx) error {
			innerCalls++
			return nil
		})
		assert.ErrorIs(t, again, boom)
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, innerCalls)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 1, store.rollbacks)
	assert.Equal(t, int64(100), store.accounts[a.ID()].Balance().Amount())
}

func TestCoordinatorRefusesScopeHoldingLocks(t *testing.T) {
	low, err := domain.RestoreAccount(uuid.MustParse("00000000-0000-0000-0000-0000000000aa"), uuid.New(), "low", 500, time.Time{})
	require.NoError(t, err)
	high, err := domain.RestoreAccount(uuid.MustParse("ffffffff-0000-0000-0000-0000000000bb"), uuid.New(), "high", 500, time.Time{})
	require.NoError(t, err)
	store := newSpyStore(low, high)
	scope := usecase.NewScope(store, nil)
	coordinator := usecase.NewTransferCoordinator(scope, nil)

	err = scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		_, err := tx.FetchForUpdate(ctx, high.ID(), domain.LockWait)
		require.NoError(t, err)
		_, err = coordinator.Transfer(ctx, low.ID(), high.ID(), 10, domain.LockWait)
		assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
		return nil
	})
	require.NoError(t, err)
	// 只有外層取得的鎖，低 ID 的帳戶沒有在高 ID 之後被鎖
	assert.Equal(t, []uuid.UUID{high.ID()}, store.locked)
	assert.Equal(t, int64(500), store.accounts[low.ID()].Balance().Amount())
	assert.Equal(t, int64(500), store.accounts[high.ID()].Balance().Amount())

	// 尚未持有任何鎖的外層範圍可以直接加入轉帳
	err = scope.Run(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		_, err := coordinator.Transfer(ctx, high.ID(), low.ID(), 10, domain.LockWait)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(510), store.accounts[low.ID()].Balance().Amount())
}
