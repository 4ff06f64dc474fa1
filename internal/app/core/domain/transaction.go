package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType 交易類型
// 為了節省記憶體，使用 uint8
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Transaction 已提交異動的日誌紀錄
type Transaction struct {
	// Sequence: 由儲存層在 commit 時分配的順序號
	Sequence uint64 `json:"sequence"`
	// Amount: 金額
	Amount int64 `json:"amount"`
	// CreatedAt: 交易時間 (UnixNano)
	CreatedAt int64 `json:"created_at"`
	// TransactionID: 外部追蹤號
	TransactionID uuid.UUID `json:"transaction_id"`
	// From, To: 帳戶 ID，存款沒有 From，提款沒有 To
	From uuid.UUID       `json:"from"`
	To   uuid.UUID       `json:"to"`
	Type TransactionType `json:"type"`
}

func newTransaction(t TransactionType, from, to uuid.UUID, amount int64) *Transaction {
	return &Transaction{
		Amount:        amount,
		CreatedAt:     time.Now().UnixNano(),
		TransactionID: uuid.New(),
		From:          from,
		To:            to,
		Type:          t,
	}
}

// NewDeposit 建立存款紀錄
func NewDeposit(to uuid.UUID, amount int64) *Transaction {
	return newTransaction(TransactionTypeDeposit, uuid.Nil, to, amount)
}

// NewWithdraw 建立提款紀錄
func NewWithdraw(from uuid.UUID, amount int64) *Transaction {
	return newTransaction(TransactionTypeWithdraw, from, uuid.Nil, amount)
}

// NewTransfer 建立轉帳紀錄
func NewTransfer(from, to uuid.UUID, amount int64) *Transaction {
	return newTransaction(TransactionTypeTransfer, from, to, amount)
}

// Validate 在取得任何鎖之前檢查交易結構
// 自己轉給自己不論金額都是 ErrInvalidTransfer
func (t *Transaction) Validate() error {
	switch t.Type {
	case TransactionTypeTransfer:
		if t.From == t.To {
			return fmt.Errorf("%w: cannot transfer from account %s to itself", ErrInvalidTransfer, t.From)
		}
	case TransactionTypeDeposit, TransactionTypeWithdraw:
	default:
		return fmt.Errorf("%w: unknown transaction type %d", ErrInvalidTransfer, t.Type)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive (%d)", ErrInvalidAmount, t.Amount)
	}
	return nil
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保順序以避免死鎖
func (t *Transaction) GetLockIDs() (ids []uuid.UUID) {
	ids = make([]uuid.UUID, 0, 2)
	switch t.Type {
	case TransactionTypeTransfer:
		first, second := LockOrder(t.From, t.To)
		ids = append(ids, first, second)
	case TransactionTypeDeposit:
		ids = append(ids, t.To)
	case TransactionTypeWithdraw:
		ids = append(ids, t.From)
	}
	return ids
}
