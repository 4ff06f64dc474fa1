package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-locked-ledger/pkg/wal"
)

// DefaultLockTimeout WAIT 模式的預設等待上限
const DefaultLockTimeout = 3 * time.Second

// MutexLedger 是單一節點、以帳戶鎖表實現的帳本
//
// 結構:
//
//	accounts: 已提交的帳戶資料 Map
//	mu: 保護 accounts 與 journal 的發布
//	locks: 每個帳戶一把的互斥鎖
//	journal: 已提交的交易日誌
//	commitMu: 序列化序號分配、WAL 寫入與發布
//	sequence: 最後一筆已提交交易的序號 (由 commitMu 保護)
//	wal: Write-Ahead Log 實例 (可為 nil，代表不落地)
type MutexLedger struct {
	accounts map[uuid.UUID]*domain.Account
	journal  []*domain.Transaction
	mu       sync.RWMutex

	locks    *lockTable
	commitMu sync.Mutex
	sequence uint64

	wal         *wal.WAL
	lockTimeout time.Duration
	logger      *zap.Logger
}

// Option MutexLedger 的設定選項
type Option func(*MutexLedger)

// WithLockTimeout 設定 WAIT 模式的等待上限
func WithLockTimeout(d time.Duration) Option {
	return func(m *MutexLedger) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *MutexLedger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	accounts: 初始帳戶 (可為 nil)
//	wal: Write-Ahead Log 實例 (可為 nil)
//	opts: 設定選項
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(accounts []*domain.Account, wal *wal.WAL, opts ...Option) (*MutexLedger, error) {
	ledger := &MutexLedger{
		accounts:    make(map[uuid.UUID]*domain.Account, len(accounts)),
		locks:       newLockTable(),
		wal:         wal,
		lockTimeout: DefaultLockTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	for _, account := range accounts {
		ledger.accounts[account.ID()] = account.Clone()
	}
	if err := ledger.recoverFromWAL(); err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	return ledger, nil
}

// walAccount WAL 中的帳戶狀態
type walAccount struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

// walRecord 一次 commit 寫入的內容 (該交易持有帳戶的最終狀態與日誌)
type walRecord struct {
	Accounts []walAccount          `json:"accounts"`
	Journal  []*domain.Transaction `json:"journal"`
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewMutexLedger 呼叫，無需 Lock (單執行緒)
func (m *MutexLedger) recoverFromWAL() error {
	if m.wal == nil {
		return nil
	}
	records := 0
	err := m.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		for _, a := range rec.Accounts {
			account, err := domain.RestoreAccount(a.ID, a.OwnerID, a.DisplayName, a.Balance, a.CreatedAt)
			if err != nil {
				return err
			}
			m.accounts[account.ID()] = account
		}
		for _, tran := range rec.Journal {
			m.sequence = max(m.sequence, tran.Sequence)
			m.journal = append(m.journal, tran)
		}
		records++
		return nil
	})
	if err != nil {
		return err
	}
	if records > 0 {
		m.logger.Info("ledger recovered from wal",
			zap.String("path", m.wal.Path()),
			zap.Int("records", records),
			zap.Int("accounts", len(m.accounts)),
		)
	}
	return nil
}

// Begin 開啟一個交易範圍
func (m *MutexLedger) Begin(ctx context.Context) (usecase.Tx, error) {
	return &mutexTx{
		ledger: m,
		held:   make(map[uuid.UUID]*domain.Account),
	}, nil
}

// Snapshot 取得指定帳戶已提交的狀態 (不上鎖)
//
// 參數:
//
//	ctx: 上下文
//	id: 帳戶 ID
//
// 回傳:
//
//	*domain.Account: 帳戶複本
//	error: ErrAccountNotFound
func (m *MutexLedger) Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return account.Clone(), nil
}

// ListByOwner 列出擁有者的帳戶，依建立時間排序
func (m *MutexLedger) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	m.mu.RLock()
	result := make([]*domain.Account, 0)
	for _, account := range m.accounts {
		if account.OwnerID == ownerID {
			result = append(result, account.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b *domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return domain.CompareIDs(a.ID(), b.ID())
	})
	return result, nil
}

// Journal 回傳已提交交易日誌的複本，依 Sequence 遞增
func (m *MutexLedger) Journal() []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Transaction, len(m.journal))
	for i, tran := range m.journal {
		out[i] = *tran
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out
}

func (m *MutexLedger) exists(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[id]
	return ok
}

// mutexTx 單一交易範圍，持有的帳戶都是工作複本，commit 時才發布
type mutexTx struct {
	ledger  *MutexLedger
	held    map[uuid.UUID]*domain.Account
	order   []uuid.UUID
	journal []*domain.Transaction
	closed  bool
}

// FetchForUpdate 取得帳戶鎖並回傳工作複本
//
// 參數:
//
//	ctx: 上下文
//	id: 帳戶 ID
//	mode: 上鎖模式
//
// 回傳:
//
//	*domain.Account: 此交易持有的帳戶，重複呼叫回傳同一個實例
//	error: ErrAccountNotFound、ErrLockUnavailable、ErrLockTimeout 或 ctx 錯誤
func (t *mutexTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	if t.closed {
		return nil, domain.ErrTransactionClosed
	}
	if account, ok := t.held[id]; ok {
		return account, nil
	}
	if !t.ledger.exists(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	if err := t.ledger.locks.acquire(ctx, id, mode, t.ledger.lockTimeout); err != nil {
		return nil, err
	}
	// 取得鎖之後再讀，拿到的是前一個持有者 commit 後的狀態
	account, err := t.ledger.Snapshot(ctx, id)
	if err != nil {
		t.ledger.locks.release(id)
		return nil, err
	}
	t.hold(id, account)
	return account, nil
}

// Insert 新增帳戶，並由此交易持有到結束
func (t *mutexTx) Insert(ctx context.Context, account *domain.Account) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	id := account.ID()
	if _, ok := t.held[id]; ok || t.ledger.exists(id) {
		return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
	}
	if err := t.ledger.locks.acquire(ctx, id, domain.LockNoWait, 0); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
	}
	if t.ledger.exists(id) {
		t.ledger.locks.release(id)
		return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
	}
	t.hold(id, account)
	return nil
}

func (t *mutexTx) hold(id uuid.UUID, account *domain.Account) {
	t.held[id] = account
	t.order = append(t.order, id)
}

// Record 加入一筆於 commit 時寫入的交易日誌
func (t *mutexTx) Record(tran *domain.Transaction) {
	t.journal = append(t.journal, tran)
}

// Commit 寫入 WAL 後發布所有持有帳戶的狀態，並釋放鎖
// WAL 寫入失敗時不發布任何異動，也不消耗序號
func (t *mutexTx) Commit(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	defer t.close()

	if len(t.held) == 0 && len(t.journal) == 0 {
		return nil
	}

	t.ledger.commitMu.Lock()
	defer t.ledger.commitMu.Unlock()

	next := t.ledger.sequence
	for _, tran := range t.journal {
		next++
		tran.Sequence = next
	}

	if t.ledger.wal != nil {
		rec := walRecord{
			Accounts: make([]walAccount, 0, len(t.order)),
			Journal:  t.journal,
		}
		for _, id := range t.order {
			account := t.held[id]
			rec.Accounts = append(rec.Accounts, walAccount{
				ID:          id,
				OwnerID:     account.OwnerID,
				DisplayName: account.DisplayName,
				Balance:     account.Balance().Amount(),
				CreatedAt:   account.CreatedAt,
			})
		}
		if err := t.ledger.wal.Write(rec); err != nil {
			for _, tran := range t.journal {
				tran.Sequence = 0
			}
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}
	t.ledger.sequence = next

	t.ledger.mu.Lock()
	for id, account := range t.held {
		t.ledger.accounts[id] = account.Clone()
	}
	t.ledger.journal = append(t.ledger.journal, t.journal...)
	t.ledger.mu.Unlock()
	return nil
}

// Rollback 丟棄所有工作複本並釋放鎖
func (t *mutexTx) Rollback(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.close()
	return nil
}

// close 依取得順序的反向釋放鎖
func (t *mutexTx) close() {
	t.closed = true
	for i := len(t.order) - 1; i >= 0; i-- {
		t.ledger.locks.release(t.order[i])
	}
	t.order = nil
	t.held = nil
	t.journal = nil
}

var _ usecase.AccountStore = (*MutexLedger)(nil)
