package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           uuid PRIMARY KEY,
		owner_id     uuid NOT NULL,
		display_name text NOT NULL,
		balance      bigint NOT NULL CONSTRAINT accounts_balance_non_negative CHECK (balance >= 0),
		created_at   timestamptz NOT NULL,
		updated_at   timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_owner_id_idx ON accounts (owner_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		sequence        bigserial PRIMARY KEY,
		ref_id          uuid NOT NULL UNIQUE,
		from_account_id uuid,
		to_account_id   uuid,
		amount          bigint NOT NULL CHECK (amount > 0),
		type            smallint NOT NULL,
		created_at      bigint NOT NULL
	)`,
}

const (
	selectAccount = `SELECT id::text, owner_id::text, display_name, balance, created_at FROM accounts`

	selectForUpdate       = selectAccount + ` WHERE id = $1::uuid FOR UPDATE`
	selectForUpdateNoWait = selectAccount + ` WHERE id = $1::uuid FOR UPDATE NOWAIT`
)

// PostgresLedger 以 PostgreSQL 列鎖 (SELECT ... FOR UPDATE) 實現的帳本
type PostgresLedger struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *zap.Logger
}

// Option PostgresLedger 的設定選項
type Option func(*PostgresLedger)

// WithLockTimeout 設定 WAIT 模式的等待上限 (交易層級的 lock_timeout)
func WithLockTimeout(d time.Duration) Option {
	return func(l *PostgresLedger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *PostgresLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewPostgresLedger(pool *pgxpool.Pool, opts ...Option) *PostgresLedger {
	ledger := &PostgresLedger{
		pool:        pool,
		lockTimeout: 3 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Migrate 建立 accounts 與 transactions 表 (已存在則略過)
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres schema: %w", err)
		}
	}
	l.logger.Info("postgres schema ready")
	return nil
}

// Begin 開啟 READ COMMITTED 交易，lock_timeout 只作用於此交易
func (l *PostgresLedger) Begin(ctx context.Context) (usecase.Tx, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, translateError(err, domain.LockWait)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", lockTimeoutSetting(l.lockTimeout)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, translateError(err, domain.LockWait)
	}
	return &pgTx{
		ledger: l,
		tx:     tx,
		held:   make(map[uuid.UUID]*heldAccount),
	}, nil
}

// Snapshot 不上鎖讀取已提交的帳戶
func (l *PostgresLedger) Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, _, err := scanAccount(l.pool.QueryRow(ctx, selectAccount+` WHERE id = $1::uuid`, id.String()))
	if err != nil {
		return nil, translateError(err, domain.LockWait)
	}
	return account, nil
}

// ListByOwner 列出擁有者的帳戶，依建立時間排序
func (l *PostgresLedger) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	rows, err := l.pool.Query(ctx, selectAccount+` WHERE owner_id = $1::uuid ORDER BY created_at, id`, ownerID.String())
	if err != nil {
		return nil, translateError(err, domain.LockWait)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0)
	for rows.Next() {
		account, _, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, domain.LockWait)
	}
	return accounts, nil
}

// scanAccount 讀取 selectAccount 的一列，另外回傳讀到的餘額
func scanAccount(row pgx.Row) (*domain.Account, int64, error) {
	var (
		id, ownerID string
		displayName string
		balance     int64
		createdAt   time.Time
	)
	if err := row.Scan(&id, &ownerID, &displayName, &balance, &createdAt); err != nil {
		return nil, 0, err
	}
	accountID, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, fmt.Errorf("decode account id: %w", err)
	}
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("decode owner id: %w", err)
	}
	account, err := domain.RestoreAccount(accountID, owner, displayName, balance, createdAt)
	if err != nil {
		return nil, 0, err
	}
	return account, balance, nil
}

// lockTimeoutSetting 轉成 lock_timeout 的毫秒字串，無條件進位且至少 1ms (0 代表不限時)
func lockTimeoutSetting(d time.Duration) string {
	ms := int64((d + time.Millisecond - 1) / time.Millisecond)
	return fmt.Sprintf("%dms", max(ms, 1))
}

func nullableID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

type heldAccount struct {
	account *domain.Account
	loaded  int64
}

// pgTx 包裝一個 pgx 交易
type pgTx struct {
	ledger  *PostgresLedger
	tx      pgx.Tx
	held    map[uuid.UUID]*heldAccount
	order   []uuid.UUID
	journal []*domain.Transaction
	closed  bool
}

// FetchForUpdate 以 SELECT ... FOR UPDATE [NOWAIT] 鎖定帳戶列
func (t *pgTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	if t.closed {
		return nil, domain.ErrTransactionClosed
	}
	if h, ok := t.held[id]; ok {
		return h.account, nil
	}
	query := selectForUpdate
	if mode == domain.LockNoWait {
		query = selectForUpdateNoWait
	}
	account, loaded, err := scanAccount(t.tx.QueryRow(ctx, query, id.String()))
	if err != nil {
		return nil, translateError(err, mode)
	}
	t.held[id] = &heldAccount{account: account, loaded: loaded}
	t.order = append(t.order, id)
	return account, nil
}

// Insert 新增帳戶列
func (t *pgTx) Insert(ctx context.Context, account *domain.Account) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, owner_id, display_name, balance, created_at, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $5)`,
		account.ID().String(), account.OwnerID.String(), account.DisplayName, account.Balance().Amount(), account.CreatedAt,
	)
	if err != nil {
		return translateError(err, domain.LockNoWait)
	}
	id := account.ID()
	t.held[id] = &heldAccount{account: account, loaded: account.Balance().Amount()}
	t.order = append(t.order, id)
	return nil
}

// Record 加入一筆於 commit 時寫入的交易日誌
func (t *pgTx) Record(tran *domain.Transaction) {
	t.journal = append(t.journal, tran)
}

// Commit 寫回變動的餘額與交易日誌後提交
func (t *pgTx) Commit(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true

	if err := t.flush(ctx); err != nil {
		_ = t.tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := t.tx.Commit(ctx); err != nil {
		t.ledger.logger.Warn("postgres commit failed", zap.Int("accounts", len(t.order)), zap.Error(err))
		return translateError(err, domain.LockWait)
	}
	return nil
}

func (t *pgTx) flush(ctx context.Context) error {
	for _, id := range t.order {
		h := t.held[id]
		balance := h.account.Balance().Amount()
		if balance == h.loaded {
			continue
		}
		_, err := t.tx.Exec(ctx,
			`UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1::uuid`,
			id.String(), balance,
		)
		if err != nil {
			return translateError(err, domain.LockWait)
		}
	}
	for _, tran := range t.journal {
		var seq int64
		err := t.tx.QueryRow(ctx,
			`INSERT INTO transactions (ref_id, from_account_id, to_account_id, amount, type, created_at)
			 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6) RETURNING sequence`,
			tran.TransactionID.String(), nullableID(tran.From), nullableID(tran.To), tran.Amount, int16(tran.Type), tran.CreatedAt,
		).Scan(&seq)
		if err != nil {
			return translateError(err, domain.LockWait)
		}
		tran.Sequence = uint64(seq)
	}
	return nil
}

// Rollback 放棄交易，釋放所有列鎖
func (t *pgTx) Rollback(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

var _ usecase.AccountStore = (*PostgresLedger)(nil)
