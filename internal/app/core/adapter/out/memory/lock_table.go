package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// lockTable 以帳戶 ID 為 key 的互斥鎖表
//
// 每個帳戶對應一個容量為 1 的 channel，送入代表上鎖，取出代表解鎖。
// 帳戶不會被刪除，slot 建立後就一直保留。
type lockTable struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[uuid.UUID]chan struct{})}
}

func (t *lockTable) slot(id uuid.UUID) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.slots[id] = ch
	}
	return ch
}

// acquire 取得帳戶鎖
//
// 參數:
//
//	ctx: 上下文，取消時放棄等待
//	id: 帳戶 ID
//	mode: LockWait 最多等待 timeout，LockNoWait 不等待
//	timeout: 等待上限
//
// 回傳:
//
//	error: ErrLockUnavailable、ErrLockTimeout 或 ctx 錯誤，失敗時沒有持有任何鎖
func (t *lockTable) acquire(ctx context.Context, id uuid.UUID, mode domain.LockMode, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := t.slot(id)

	select {
	case ch <- struct{}{}:
		return nil
	default:
	}
	if mode == domain.LockNoWait {
		return fmt.Errorf("%w: account %s", domain.ErrLockUnavailable, id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: account %s after %s", domain.ErrLockTimeout, id, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release 釋放帳戶鎖，只能由持有者呼叫
func (t *lockTable) release(id uuid.UUID) {
	select {
	case <-t.slot(id):
	default:
		panic(fmt.Sprintf("memory: release of unlocked account %s", id))
	}
}
