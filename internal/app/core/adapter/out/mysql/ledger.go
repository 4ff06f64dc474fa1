package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-locked-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID          []byte    `gorm:"column:id;type:binary(16);primaryKey"`
	OwnerID     []byte    `gorm:"column:owner_id;type:binary(16);not null;index"`
	DisplayName string    `gorm:"column:display_name;size:128;not null"`
	Balance     int64     `gorm:"column:balance;not null;check:chk_accounts_balance,balance >= 0"`
	CreatedAt   time.Time `gorm:"column:created_at;type:datetime(6);not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:datetime(6);not null"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表，自增 ID 即為 Sequence
type sqlTransaction struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	RefID         []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionID
	FromAccountID []byte `gorm:"column:from_account_id;type:binary(16);index"`
	ToAccountID   []byte `gorm:"column:to_account_id;type:binary(16);index"`
	Amount        int64
	Type          uint8
	CreatedAt     int64 `gorm:"autoCreateTime:nano"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// MySQLLedger 以 InnoDB 列鎖 (SELECT ... FOR UPDATE) 實現的帳本
type MySQLLedger struct {
	db          *gorm.DB
	lockTimeout time.Duration
	logger      *zap.Logger
}

// Option MySQLLedger 的設定選項
type Option func(*MySQLLedger)

// WithLockTimeout 設定 WAIT 模式的等待上限 (innodb_lock_wait_timeout，以秒為單位無條件進位)
func WithLockTimeout(d time.Duration) Option {
	return func(l *MySQLLedger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *MySQLLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewMySQLLedger(client *mysql.Client, opts ...Option) *MySQLLedger {
	ledger := &MySQLLedger{
		db:          client.DB(),
		lockTimeout: 3 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Migrate 建立 accounts 與 transactions 表 (已存在則略過)
func (l *MySQLLedger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return fmt.Errorf("migrate mysql schema: %w", err)
	}
	l.logger.Info("mysql schema ready")
	return nil
}

func (l *MySQLLedger) lockWaitSeconds() int {
	secs := int(math.Ceil(l.lockTimeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Begin 開啟資料庫交易並設定此連線的鎖等待上限
func (l *MySQLLedger) Begin(ctx context.Context) (usecase.Tx, error) {
	tx := l.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, translateError(tx.Error)
	}
	if err := tx.Exec("SET SESSION innodb_lock_wait_timeout = ?", l.lockWaitSeconds()).Error; err != nil {
		tx.Rollback()
		return nil, translateError(err)
	}
	return &mysqlTx{
		ledger: l,
		tx:     tx,
		held:   make(map[uuid.UUID]*heldAccount),
	}, nil
}

// Snapshot 一般讀取 (consistent read，不上鎖)
func (l *MySQLLedger) Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var row sqlAccount
	if err := l.db.WithContext(ctx).Where("id = ?", id[:]).Take(&row).Error; err != nil {
		return nil, translateError(err)
	}
	return row.toDomain()
}

// ListByOwner 列出擁有者的帳戶，依建立時間排序
func (l *MySQLLedger) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	var rows []sqlAccount
	err := l.db.WithContext(ctx).
		Where("owner_id = ?", ownerID[:]).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	accounts := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		account, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (r *sqlAccount) toDomain() (*domain.Account, error) {
	id, err := uuid.FromBytes(r.ID)
	if err != nil {
		return nil, fmt.Errorf("decode account id: %w", err)
	}
	ownerID, err := uuid.FromBytes(r.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("decode owner id: %w", err)
	}
	return domain.RestoreAccount(id, ownerID, r.DisplayName, r.Balance, r.CreatedAt)
}

func nullableID(id uuid.UUID) []byte {
	if id == uuid.Nil {
		return nil
	}
	return id[:]
}

type heldAccount struct {
	account *domain.Account
	// 取得時的餘額，commit 時只寫回有變動的帳戶
	loaded int64
}

// mysqlTx 包裝一個 gorm 交易
type mysqlTx struct {
	ledger  *MySQLLedger
	tx      *gorm.DB
	held    map[uuid.UUID]*heldAccount
	order   []uuid.UUID
	journal []*domain.Transaction
	closed  bool
}

// FetchForUpdate 以 SELECT ... FOR UPDATE [NOWAIT] 鎖定帳戶列
func (t *mysqlTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	if t.closed {
		return nil, domain.ErrTransactionClosed
	}
	if h, ok := t.held[id]; ok {
		return h.account, nil
	}

	locking := clause.Locking{Strength: "UPDATE"}
	if mode == domain.LockNoWait {
		locking.Options = "NOWAIT"
	}
	var row sqlAccount
	err := t.tx.WithContext(ctx).
		Clauses(locking).
		Where("id = ?", id[:]).
		Take(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	account, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	t.held[id] = &heldAccount{account: account, loaded: row.Balance}
	t.order = append(t.order, id)
	return account, nil
}

// Insert 新增帳戶列，InnoDB 在交易結束前對新列持有排他鎖
func (t *mysqlTx) Insert(ctx context.Context, account *domain.Account) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	id, owner := account.ID(), account.OwnerID
	row := sqlAccount{
		ID:          id[:],
		OwnerID:     owner[:],
		DisplayName: account.DisplayName,
		Balance:     account.Balance().Amount(),
		CreatedAt:   account.CreatedAt,
		UpdatedAt:   account.CreatedAt,
	}
	if err := t.tx.WithContext(ctx).Create(&row).Error; err != nil {
		return translateInsertError(err)
	}
	t.held[id] = &heldAccount{account: account, loaded: row.Balance}
	t.order = append(t.order, id)
	return nil
}

// Record 加入一筆於 commit 時寫入的交易日誌
func (t *mysqlTx) Record(tran *domain.Transaction) {
	t.journal = append(t.journal, tran)
}

// Commit 寫回變動的餘額與交易日誌後提交
func (t *mysqlTx) Commit(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true

	if err := t.flush(ctx); err != nil {
		t.tx.Rollback()
		return err
	}
	if err := t.tx.Commit().Error; err != nil {
		t.ledger.logger.Warn("mysql commit failed", zap.Int("accounts", len(t.order)), zap.Error(err))
		return translateError(err)
	}
	return nil
}

func (t *mysqlTx) flush(ctx context.Context) error {
	db := t.tx.WithContext(ctx)
	now := time.Now().UTC()
	for _, id := range t.order {
		h := t.held[id]
		balance := h.account.Balance().Amount()
		if balance == h.loaded {
			continue
		}
		err := db.Model(&sqlAccount{}).
			Where("id = ?", id[:]).
			Updates(map[string]any{"balance": balance, "updated_at": now}).Error
		if err != nil {
			return translateError(err)
		}
	}
	for _, tran := range t.journal {
		row := sqlTransaction{
			RefID:         tran.TransactionID[:],
			FromAccountID: nullableID(tran.From),
			ToAccountID:   nullableID(tran.To),
			Amount:        tran.Amount,
			Type:          uint8(tran.Type),
			CreatedAt:     tran.CreatedAt,
		}
		if err := db.Create(&row).Error; err != nil {
			return translateError(err)
		}
		tran.Sequence = row.ID
	}
	return nil
}

// Rollback 放棄交易，釋放所有列鎖
func (t *mysqlTx) Rollback(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	err := t.tx.Rollback().Error
	// ctx 取消時 database/sql 已自動 rollback
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return translateError(err)
	}
	return nil
}

var _ usecase.AccountStore = (*MySQLLedger)(nil)
