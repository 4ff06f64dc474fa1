package domain

import "errors"

var (
	// ErrInvalidAmount 金額不合法 (負數、零或無法表示的異動量)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrLockUnavailable 帳戶鎖已被其他交易持有 (NO_WAIT 或死鎖被選為犧牲者)
	ErrLockUnavailable = errors.New("account lock unavailable")

	// ErrLockTimeout 等待帳戶鎖逾時
	ErrLockTimeout = errors.New("account lock wait timeout")

	// ErrInvalidTransfer 轉帳請求結構不合法 (例如自己轉給自己)
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrArithmeticOverflow 餘額運算超出 int64 範圍
	ErrArithmeticOverflow = errors.New("balance arithmetic overflow")

	// ErrTransactionClosed 交易範圍已經 commit 或 rollback
	ErrTransactionClosed = errors.New("transaction already closed")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// IsRetryable 回報錯誤是否為暫時性的鎖衝突。
// 這類錯誤發生時不會有任何異動被套用，呼叫端可以整個操作重試。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockUnavailable) || errors.Is(err, ErrLockTimeout)
}
