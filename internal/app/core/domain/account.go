package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account 帳本中的帳戶
//
// 結構:
//
//	id: 帳戶 ID，建立後不可變
//	OwnerID: 擁有者 (Member) 的 ID，本模組不驗證其語意
//	DisplayName: 顯示名稱，不保證唯一
//	balance: 目前餘額，只能透過 Credit/Debit 異動
//
// Account 本身不是執行緒安全的，呼叫端必須先透過 FetchForUpdate 取得帳戶鎖。
type Account struct {
	id          uuid.UUID
	OwnerID     uuid.UUID
	DisplayName string
	CreatedAt   time.Time
	balance     Balance
}

// NewAccount 開立新帳戶，初始餘額不得為負
func NewAccount(ownerID uuid.UUID, displayName string, initialBalance int64) (*Account, error) {
	balance, err := NewBalance(initialBalance)
	if err != nil {
		return nil, err
	}
	return &Account{
		id:          uuid.New(),
		OwnerID:     ownerID,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		balance:     balance,
	}, nil
}

// RestoreAccount 由儲存層的資料重建帳戶 (只給 adapter 使用)
func RestoreAccount(id, ownerID uuid.UUID, displayName string, balance int64, createdAt time.Time) (*Account, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("restore account: empty id")
	}
	b, err := NewBalance(balance)
	if err != nil {
		return nil, fmt.Errorf("restore account %s: %w", id, err)
	}
	return &Account{
		id:          id,
		OwnerID:     ownerID,
		DisplayName: displayName,
		CreatedAt:   createdAt,
		balance:     b,
	}, nil
}

func (a *Account) ID() uuid.UUID {
	return a.id
}

func (a *Account) Balance() Balance {
	return a.balance
}

// Credit 存入 amount，amount 必須為正
func (a *Account) Credit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive (%d)", ErrInvalidAmount, amount)
	}
	next, err := a.balance.Add(amount)
	if err != nil {
		return err
	}
	a.balance = next
	return nil
}

// Debit 扣除 amount，餘額不足時回傳 ErrInsufficientFunds 且餘額不變
func (a *Account) Debit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit amount must be positive (%d)", ErrInvalidAmount, amount)
	}
	next, err := a.balance.Sub(amount)
	if err != nil {
		return err
	}
	a.balance = next
	return nil
}

// Clone 回傳帳戶的複本
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}
