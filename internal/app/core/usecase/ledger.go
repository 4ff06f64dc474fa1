package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// AccountStore 是帳戶儲存層的介面
// 所有會異動餘額的讀取都必須經過 Begin 取得的 Tx。
type AccountStore interface {
	// Begin 開啟一個交易範圍
	Begin(ctx context.Context) (Tx, error)
	// Snapshot 不上鎖讀取已提交的帳戶狀態，不可作為後續寫入的依據
	Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// ListByOwner 列出擁有者的所有帳戶 (已提交狀態)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error)
}

// Tx 是單一交易範圍內的存取介面，只能被一個 goroutine 使用。
//
// FetchForUpdate 取得的帳戶在 Commit 時一併寫回，Rollback 時全部丟棄；
// 兩者都會釋放此 Tx 持有的所有帳戶鎖。對同一個 ID 重複呼叫 FetchForUpdate
// 會直接回傳已持有的帳戶，不會重新上鎖。
type Tx interface {
	FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error)
	// Insert 新增帳戶，commit 後才對其他交易可見
	Insert(ctx context.Context, account *domain.Account) error
	// Record 加入一筆於 commit 時寫入的交易日誌
	Record(tran *domain.Transaction)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
