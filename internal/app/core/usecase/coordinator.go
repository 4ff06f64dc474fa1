package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// TransferCoordinator 負責兩個帳戶之間的轉帳
//
// 不論轉帳方向，一律依 domain.LockOrder 的全序先鎖 ID 較小的帳戶，
// 同一對帳戶的反向轉帳因此不會形成循環等待。
type TransferCoordinator struct {
	scope  *Scope
	logger *zap.Logger
}

func NewTransferCoordinator(scope *Scope, logger *zap.Logger) *TransferCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferCoordinator{
		scope:  scope,
		logger: logger,
	}
}

// Transfer 從 fromID 轉出 amount 到 toID
//
// 參數:
//
//	ctx: 上下文
//	fromID, toID: 轉出與轉入帳戶
//	amount: 金額，必須為正
//	mode: 上鎖模式
//
// 回傳:
//
//	*domain.Transaction: 已提交的交易紀錄
//	error: ErrInvalidTransfer / ErrInvalidAmount (未取得任何鎖)、ErrAccountNotFound、
//	       外層範圍已持有帳戶鎖時為 ErrInvalidTransfer、
//	       ErrInsufficientFunds、ErrLockUnavailable、ErrLockTimeout
func (c *TransferCoordinator) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, mode domain.LockMode) (*domain.Transaction, error) {
	tran := domain.NewTransfer(fromID, toID, amount)
	if err := tran.Validate(); err != nil {
		return nil, err
	}
	// 加入的範圍若已持有其他帳戶鎖，這次上鎖就無法保證由小到大
	if n := heldLocks(ctx); n > 0 {
		return nil, fmt.Errorf("%w: enclosing scope already holds %d account locks", domain.ErrInvalidTransfer, n)
	}

	err := c.scope.Run(ctx, func(ctx context.Context, tx Tx) error {
		held := make(map[uuid.UUID]*domain.Account, 2)
		for _, id := range tran.GetLockIDs() {
			account, err := tx.FetchForUpdate(ctx, id, mode)
			if err != nil {
				return err
			}
			held[id] = account
		}

		if err := held[fromID].Debit(amount); err != nil {
			return err
		}
		if err := held[toID].Credit(amount); err != nil {
			return err
		}
		tx.Record(tran)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("transfer committed",
		zap.Stringer("transaction_id", tran.TransactionID),
		zap.Stringer("from", fromID),
		zap.Stringer("to", toID),
		zap.Int64("amount", amount),
	)
	return tran, nil
}
