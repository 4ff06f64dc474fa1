package domain

import (
	"bytes"

	"github.com/google/uuid"
)

// LockMode 取得帳戶鎖的模式
type LockMode uint8

const (
	// LockWait 等待持有者結束交易 (受 lock timeout 限制)
	LockWait LockMode = iota
	// LockNoWait 已被持有時立即回傳 ErrLockUnavailable
	LockNoWait
)

func (m LockMode) String() string {
	switch m {
	case LockWait:
		return "WAIT"
	case LockNoWait:
		return "NO_WAIT"
	default:
		return "UNKNOWN"
	}
}

// CompareIDs 帳戶 ID 的全序 (以 UUID 的位元組比較)
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// LockOrder 回傳兩個 ID 依全序排列後的結果，較小者先上鎖
func LockOrder(a, b uuid.UUID) (first, second uuid.UUID) {
	if CompareIDs(a, b) <= 0 {
		return a, b
	}
	return b, a
}
