package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Balance 帳戶餘額，以最小貨幣單位的 int64 儲存，永遠不為負。
// 所有運算都回傳新的值，不修改呼叫端手上的副本。
type Balance struct {
	amount int64
}

// NewBalance 建立餘額，負數回傳 ErrInvalidAmount
func NewBalance(amount int64) (Balance, error) {
	if amount < 0 {
		return Balance{}, fmt.Errorf("%w: balance cannot be negative (%d)", ErrInvalidAmount, amount)
	}
	return Balance{amount: amount}, nil
}

// Amount 回傳餘額數值
func (b Balance) Amount() int64 {
	return b.amount
}

// Add 回傳增加 delta 後的餘額
//
// 參數:
//
//	delta: 增加量，不得為負
//
// 回傳:
//
//	Balance: 新的餘額
//	error: ErrInvalidAmount 或 ErrArithmeticOverflow
func (b Balance) Add(delta int64) (Balance, error) {
	if delta < 0 {
		return b, fmt.Errorf("%w: delta cannot be negative (%d)", ErrInvalidAmount, delta)
	}
	if delta > math.MaxInt64-b.amount {
		return b, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, b.amount, delta)
	}
	return Balance{amount: b.amount + delta}, nil
}

// CheckSufficient 檢查餘額是否足以扣除 amount，不做任何修改
func (b Balance) CheckSufficient(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount cannot be negative (%d)", ErrInvalidAmount, amount)
	}
	if amount > b.amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, b.amount, amount)
	}
	return nil
}

// Sub 回傳扣除 amount 後的餘額，先經過 CheckSufficient
func (b Balance) Sub(amount int64) (Balance, error) {
	if err := b.CheckSufficient(amount); err != nil {
		return b, err
	}
	return Balance{amount: b.amount - amount}, nil
}

func (b Balance) String() string {
	return strconv.FormatInt(b.amount, 10)
}

// MarshalJSON 以純數字輸出
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.amount)
}

// UnmarshalJSON 讀回時同樣套用非負檢查
func (b *Balance) UnmarshalJSON(data []byte) error {
	var amount int64
	if err := json.Unmarshal(data, &amount); err != nil {
		return err
	}
	v, err := NewBalance(amount)
	if err != nil {
		return err
	}
	*b = v
	return nil
}
