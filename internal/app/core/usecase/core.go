package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層，提供給外部 (gRPC、服務層) 呼叫的帳本操作
type CoreUseCase struct {
	store     AccountStore
	scope     *Scope
	transfers *TransferCoordinator
	logger    *zap.Logger
}

func NewCoreUseCase(store AccountStore, logger *zap.Logger) *CoreUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := NewScope(store, logger.Named("scope"))
	return &CoreUseCase{
		store:     store,
		scope:     scope,
		transfers: NewTransferCoordinator(scope, logger.Named("transfer")),
		logger:    logger,
	}
}

// Scope 回傳底層的交易範圍，讓服務層可以把多個操作組成同一個範圍
func (c *CoreUseCase) Scope() *Scope {
	return c.scope
}

// OpenAccount 開立帳戶
//
// 參數:
//
//	ctx: 上下文
//	ownerID: 擁有者 ID
//	displayName: 顯示名稱
//	initialBalance: 初始餘額 (不得為負)
//
// 回傳:
//
//	*domain.Account: 新帳戶
//	error: ErrInvalidAmount 或儲存錯誤
func (c *CoreUseCase) OpenAccount(ctx context.Context, ownerID uuid.UUID, displayName string, initialBalance int64) (*domain.Account, error) {
	account, err := domain.NewAccount(ownerID, displayName, initialBalance)
	if err != nil {
		return nil, err
	}
	err = c.scope.Run(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Insert(ctx, account); err != nil {
			return err
		}
		if initialBalance > 0 {
			tx.Record(domain.NewDeposit(account.ID(), initialBalance))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("account opened",
		zap.Stringer("account_id", account.ID()),
		zap.Stringer("owner_id", ownerID),
		zap.Int64("initial_balance", initialBalance),
	)
	return account.Clone(), nil
}

// Credit 存款 (WAIT 模式)
func (c *CoreUseCase) Credit(ctx context.Context, accountID uuid.UUID, amount int64) (domain.Balance, error) {
	return c.post(ctx, domain.NewDeposit(accountID, amount), domain.LockWait)
}

// TryCredit 存款 (NO_WAIT 模式)
func (c *CoreUseCase) TryCredit(ctx context.Context, accountID uuid.UUID, amount int64) (domain.Balance, error) {
	return c.post(ctx, domain.NewDeposit(accountID, amount), domain.LockNoWait)
}

// Debit 提款 (WAIT 模式)
func (c *CoreUseCase) Debit(ctx context.Context, accountID uuid.UUID, amount int64) (domain.Balance, error) {
	return c.post(ctx, domain.NewWithdraw(accountID, amount), domain.LockWait)
}

// TryDebit 提款 (NO_WAIT 模式)
func (c *CoreUseCase) TryDebit(ctx context.Context, accountID uuid.UUID, amount int64) (domain.Balance, error) {
	return c.post(ctx, domain.NewWithdraw(accountID, amount), domain.LockNoWait)
}

// Transfer 轉帳 (WAIT 模式)
func (c *CoreUseCase) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64) error {
	return c.transfer(ctx, fromID, toID, amount, domain.LockWait)
}

// TryTransfer 轉帳 (NO_WAIT 模式)
func (c *CoreUseCase) TryTransfer(ctx context.Context, fromID, toID uuid.UUID, amount int64) error {
	return c.transfer(ctx, fromID, toID, amount, domain.LockNoWait)
}

func (c *CoreUseCase) transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, mode domain.LockMode) error {
	tran, err := c.transfers.Transfer(ctx, fromID, toID, amount, mode)
	if err != nil {
		c.logFailure("transfer failed", err, zap.Stringer("from", fromID), zap.Stringer("to", toID), zap.Int64("amount", amount))
		return err
	}
	c.logger.Info("transfer",
		zap.Stringer("transaction_id", tran.TransactionID),
		zap.Stringer("from", fromID),
		zap.Stringer("to", toID),
		zap.Int64("amount", amount),
	)
	return nil
}

// GetBalance 取得帳戶餘額 (不上鎖的時間點快照)
func (c *CoreUseCase) GetBalance(ctx context.Context, accountID uuid.UUID) (domain.Balance, error) {
	account, err := c.store.Snapshot(ctx, accountID)
	if err != nil {
		return domain.Balance{}, err
	}
	return account.Balance(), nil
}

// GetAccount 取得帳戶快照
func (c *CoreUseCase) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return c.store.Snapshot(ctx, accountID)
}

// ListAccounts 列出擁有者的帳戶
func (c *CoreUseCase) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	return c.store.ListByOwner(ctx, ownerID)
}

// post 處理單一帳戶的存提款
func (c *CoreUseCase) post(ctx context.Context, tran *domain.Transaction, mode domain.LockMode) (domain.Balance, error) {
	if err := tran.Validate(); err != nil {
		return domain.Balance{}, err
	}

	var balance domain.Balance
	err := c.scope.Run(ctx, func(ctx context.Context, tx Tx) error {
		ids := tran.GetLockIDs()
		if len(ids) != 1 {
			return fmt.Errorf("%w: %s expects exactly one account", domain.ErrInvalidTransfer, tran.Type)
		}
		account, err := tx.FetchForUpdate(ctx, ids[0], mode)
		if err != nil {
			return err
		}
		switch tran.Type {
		case domain.TransactionTypeDeposit:
			err = account.Credit(tran.Amount)
		case domain.TransactionTypeWithdraw:
			err = account.Debit(tran.Amount)
		}
		if err != nil {
			return err
		}
		tx.Record(tran)
		balance = account.Balance()
		return nil
	})
	if err != nil {
		c.logFailure(tran.Type.String()+" failed", err, zap.Stringer("account_id", tran.GetLockIDs()[0]), zap.Int64("amount", tran.Amount))
		return domain.Balance{}, err
	}
	return balance, nil
}

func (c *CoreUseCase) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if domain.IsRetryable(err) {
		c.logger.Warn(msg+": lock contention", fields...)
		return
	}
	c.logger.Debug(msg, fields...)
}
