package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

type scopeKey struct{}

// Scope 定義一個交易範圍 (unit of work)
//
// Run 在 fn 成功時 commit，fn 回傳錯誤或 panic 時 rollback，
// 不論從哪條路徑離開都只會關閉一次。
type Scope struct {
	store  AccountStore
	logger *zap.Logger
}

func NewScope(store AccountStore, logger *zap.Logger) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{
		store:  store,
		logger: logger,
	}
}

// Run 在交易範圍內執行 fn
//
// 參數:
//
//	ctx: 上下文，若已帶有開啟中的範圍則直接加入 (不重新 Begin，也不提前 commit)
//	fn: 範圍內的工作，收到的 ctx 帶有目前的 Tx
//
// 回傳:
//
//	error: fn 的錯誤 (原樣回傳) 或 Begin/Commit 錯誤
//
// 加入外層範圍的 fn 失敗時，整個範圍被標記為只能 rollback：
// 外層的 fn 即使回傳 nil 也不會 commit，而是 rollback 並回傳該錯誤。
func (s *Scope) Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if st, ok := stateFromContext(ctx); ok {
		if st.abort != nil {
			return st.abort
		}
		if err := fn(ctx, st); err != nil {
			st.abort = err
			return err
		}
		return nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	st := &scopeTx{Tx: tx, held: make(map[uuid.UUID]struct{})}
	ctx = context.WithValue(ctx, scopeKey{}, st)

	done := false
	defer func() {
		if done {
			return
		}
		// 取消的 ctx 仍要能完成 rollback
		s.rollback(context.WithoutCancel(ctx), tx)
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(ctx, st); err != nil {
		return err
	}
	if st.abort != nil {
		return fmt.Errorf("nested operation failed, transaction rolled back: %w", st.abort)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	s.logger.Debug("transaction committed")
	return nil
}

func (s *Scope) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, domain.ErrTransactionClosed) {
		s.logger.Error("rollback failed", zap.Error(err))
		return
	}
	s.logger.Debug("transaction rolled back")
}

// scopeTx 是 Run 交給 fn 的 Tx，另外記錄範圍內已持有的帳戶鎖
// 與加入的內層操作是否失敗過
type scopeTx struct {
	Tx
	held  map[uuid.UUID]struct{}
	abort error
}

func (t *scopeTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	account, err := t.Tx.FetchForUpdate(ctx, id, mode)
	if err != nil {
		return nil, err
	}
	t.held[id] = struct{}{}
	return account, nil
}

func (t *scopeTx) Insert(ctx context.Context, account *domain.Account) error {
	if err := t.Tx.Insert(ctx, account); err != nil {
		return err
	}
	t.held[account.ID()] = struct{}{}
	return nil
}

func stateFromContext(ctx context.Context) (*scopeTx, bool) {
	st, ok := ctx.Value(scopeKey{}).(*scopeTx)
	return st, ok
}

// heldLocks 回傳 ctx 中開啟中的範圍已持有幾個帳戶鎖 (沒有範圍時為 0)
func heldLocks(ctx context.Context) int {
	st, ok := stateFromContext(ctx)
	if !ok {
		return 0
	}
	return len(st.held)
}

// TxFromContext 取出 ctx 中開啟中的 Tx
func TxFromContext(ctx context.Context) (Tx, bool) {
	st, ok := stateFromContext(ctx)
	if !ok {
		return nil, false
	}
	return st, true
}
