package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncpool "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
)

const (
	defaultPrefix     = "ledger"
	defaultRetryDelay = 50 * time.Millisecond
	defaultLockExpiry = 30 * time.Second
)

// RedisLedger 以 Redis hash 儲存帳戶、以 redsync 分散式鎖保護每個帳戶
//
// 鍵值:
//
//	{prefix}:account:{id}: 帳戶 hash
//	{prefix}:owner:{ownerID}: 擁有者的帳戶 ID 集合
//	{prefix}:journal: 交易日誌 (JSON list)
//	{prefix}:journal:seq: 交易序號
//	{prefix}:lock:account:{id}: 帳戶鎖
type RedisLedger struct {
	client *goredis.Client
	rs     *redsync.Redsync
	prefix string

	lockTimeout time.Duration
	retryDelay  time.Duration
	lockExpiry  time.Duration
	logger      *zap.Logger
}

// Option RedisLedger 的設定選項
type Option func(*RedisLedger)

// WithLockTimeout 設定 WAIT 模式的等待上限
func WithLockTimeout(d time.Duration) Option {
	return func(l *RedisLedger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithRetryDelay 設定等待鎖時的重試間隔
func WithRetryDelay(d time.Duration) Option {
	return func(l *RedisLedger) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// WithLockExpiry 設定鎖的自動過期時間，必須大於任何一個交易範圍的執行時間
func WithLockExpiry(d time.Duration) Option {
	return func(l *RedisLedger) {
		if d > 0 {
			l.lockExpiry = d
		}
	}
}

// WithPrefix 設定鍵值前綴
func WithPrefix(prefix string) Option {
	return func(l *RedisLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *RedisLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewRedisLedger(client *goredis.Client, opts ...Option) *RedisLedger {
	ledger := &RedisLedger{
		client:      client,
		rs:          redsync.New(redsyncpool.NewPool(client)),
		prefix:      defaultPrefix,
		lockTimeout: 3 * time.Second,
		retryDelay:  defaultRetryDelay,
		lockExpiry:  defaultLockExpiry,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

func (l *RedisLedger) accountKey(id uuid.UUID) string {
	return l.prefix + ":account:" + id.String()
}

func (l *RedisLedger) ownerKey(id uuid.UUID) string {
	return l.prefix + ":owner:" + id.String()
}

func (l *RedisLedger) lockKey(id uuid.UUID) string {
	return l.prefix + ":lock:account:" + id.String()
}

func (l *RedisLedger) journalKey() string {
	return l.prefix + ":journal"
}

func (l *RedisLedger) sequenceKey() string {
	return l.prefix + ":journal:seq"
}

// lock 取得帳戶的分散式鎖
//
// 參數:
//
//	ctx: 上下文，取消時回傳 ctx 錯誤
//	id: 帳戶 ID
//	mode: LockNoWait 只嘗試一次，LockWait 在 lockTimeout 內重試
//
// 回傳:
//
//	*redsync.Mutex: 已取得的鎖
//	error: ErrLockUnavailable、ErrLockTimeout、ctx 錯誤或 Redis 錯誤
func (l *RedisLedger) lock(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*redsync.Mutex, error) {
	tries := 1
	if mode == domain.LockWait {
		tries = int(l.lockTimeout/l.retryDelay) + 1
	}
	mutex := l.rs.NewMutex(l.lockKey(id),
		redsync.WithExpiry(l.lockExpiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()
	err := mutex.LockContext(lockCtx)
	if err == nil {
		return mutex, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !isLockContention(err) && lockCtx.Err() == nil {
		return nil, fmt.Errorf("acquire lock for account %s: %w", id, err)
	}
	if mode == domain.LockNoWait {
		return nil, fmt.Errorf("%w: account %s: %w", domain.ErrLockUnavailable, id, err)
	}
	return nil, fmt.Errorf("%w: account %s after %s: %w", domain.ErrLockTimeout, id, l.lockTimeout, err)
}

// isLockContention 判斷 redsync 錯誤是否只是鎖被其他持有者佔用
func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}

func (l *RedisLedger) unlock(ctx context.Context, mutex *redsync.Mutex) {
	ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
	if err != nil || !ok {
		l.logger.Warn("failed to release account lock",
			zap.String("lock_key", mutex.Name()),
			zap.Bool("unlock_ok", ok),
			zap.Error(err),
		)
	}
}

// Begin 開啟一個交易範圍
func (l *RedisLedger) Begin(ctx context.Context) (usecase.Tx, error) {
	return &redisTx{
		ledger: l,
		held:   make(map[uuid.UUID]*heldAccount),
	}, nil
}

// Snapshot 讀取已提交的帳戶 (不上鎖)
func (l *RedisLedger) Snapshot(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	fields, err := l.client.HGetAll(ctx, l.accountKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeAccount(id, fields)
}

// ListByOwner 列出擁有者的帳戶，依建立時間排序
func (l *RedisLedger) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	members, err := l.client.SMembers(ctx, l.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	accounts := make([]*domain.Account, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			return nil, fmt.Errorf("decode account id %q: %w", member, err)
		}
		account, err := l.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	slices.SortFunc(accounts, func(a, b *domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return domain.CompareIDs(a.ID(), b.ID())
	})
	return accounts, nil
}

// Journal 依序號讀取已提交的交易日誌
func (l *RedisLedger) Journal(ctx context.Context) ([]domain.Transaction, error) {
	raws, err := l.client.LRange(ctx, l.journalKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(raws))
	for _, raw := range raws {
		var tran domain.Transaction
		if err := json.Unmarshal([]byte(raw), &tran); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, tran)
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}

func encodeAccount(account *domain.Account) map[string]any {
	return map[string]any{
		"owner_id":     account.OwnerID.String(),
		"display_name": account.DisplayName,
		"balance":      account.Balance().Amount(),
		"created_at":   account.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeAccount(id uuid.UUID, fields map[string]string) (*domain.Account, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	ownerID, err := uuid.Parse(fields["owner_id"])
	if err != nil {
		return nil, fmt.Errorf("decode owner id of %s: %w", id, err)
	}
	balance, err := strconv.ParseInt(fields["balance"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode balance of %s: %w", id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", id, err)
	}
	return domain.RestoreAccount(id, ownerID, fields["display_name"], balance, createdAt)
}

type heldAccount struct {
	account *domain.Account
	mutex   *redsync.Mutex
	loaded  int64
	created bool
}

// redisTx 持有帳戶鎖與工作複本，commit 時以 MULTI/EXEC 一次寫入
type redisTx struct {
	ledger  *RedisLedger
	held    map[uuid.UUID]*heldAccount
	order   []uuid.UUID
	journal []*domain.Transaction
	closed  bool
}

// FetchForUpdate 取得帳戶鎖後讀取最新狀態
func (t *redisTx) FetchForUpdate(ctx context.Context, id uuid.UUID, mode domain.LockMode) (*domain.Account, error) {
	if t.closed {
		return nil, domain.ErrTransactionClosed
	}
	if h, ok := t.held[id]; ok {
		return h.account, nil
	}
	exists, err := t.ledger.client.Exists(ctx, t.ledger.accountKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}

	mutex, err := t.ledger.lock(ctx, id, mode)
	if err != nil {
		return nil, err
	}
	account, err := t.ledger.Snapshot(ctx, id)
	if err != nil {
		t.ledger.unlock(ctx, mutex)
		return nil, err
	}
	t.hold(id, &heldAccount{account: account, mutex: mutex, loaded: account.Balance().Amount()})
	return account, nil
}

// Insert 鎖定新帳戶 ID，commit 時才寫入
func (t *redisTx) Insert(ctx context.Context, account *domain.Account) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	id := account.ID()
	if _, ok := t.held[id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
	}
	mutex, err := t.ledger.lock(ctx, id, domain.LockNoWait)
	if err != nil {
		if domain.IsRetryable(err) {
			return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
		}
		return err
	}
	exists, err := t.ledger.client.Exists(ctx, t.ledger.accountKey(id)).Result()
	if err == nil && exists > 0 {
		err = fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, id)
	}
	if err != nil {
		t.ledger.unlock(ctx, mutex)
		return err
	}
	t.hold(id, &heldAccount{account: account, mutex: mutex, created: true})
	return nil
}

func (t *redisTx) hold(id uuid.UUID, h *heldAccount) {
	t.held[id] = h
	t.order = append(t.order, id)
}

// Record 加入一筆於 commit 時寫入的交易日誌
func (t *redisTx) Record(tran *domain.Transaction) {
	t.journal = append(t.journal, tran)
}

// Commit 確認所有鎖仍有效後，以 MULTI/EXEC 寫入帳戶與日誌
func (t *redisTx) Commit(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	defer t.close(ctx)

	now := time.Now()
	for _, id := range t.order {
		if until := t.held[id].mutex.Until(); !now.Before(until) {
			return fmt.Errorf("%w: lock on account %s expired before commit", domain.ErrLockUnavailable, id)
		}
	}

	if n := int64(len(t.journal)); n > 0 {
		last, err := t.ledger.client.IncrBy(ctx, t.ledger.sequenceKey(), n).Result()
		if err != nil {
			return fmt.Errorf("allocate journal sequence: %w", err)
		}
		for i, tran := range t.journal {
			tran.Sequence = uint64(last - n + int64(i) + 1)
		}
	}

	_, err := t.ledger.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range t.order {
			h := t.held[id]
			if !h.created && h.account.Balance().Amount() == h.loaded {
				continue
			}
			pipe.HSet(ctx, t.ledger.accountKey(id), encodeAccount(h.account))
			if h.created {
				pipe.SAdd(ctx, t.ledger.ownerKey(h.account.OwnerID), id.String())
			}
		}
		for _, tran := range t.journal {
			raw, err := json.Marshal(tran)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, t.ledger.journalKey(), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

// Rollback 釋放所有帳戶鎖，工作複本直接丟棄
func (t *redisTx) Rollback(ctx context.Context) error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.close(ctx)
	return nil
}

func (t *redisTx) close(ctx context.Context) {
	t.closed = true
	for i := len(t.order) - 1; i >= 0; i-- {
		t.ledger.unlock(ctx, t.held[t.order[i]].mutex)
	}
	t.order = nil
	t.held = nil
	t.journal = nil
}

var _ usecase.AccountStore = (*RedisLedger)(nil)
