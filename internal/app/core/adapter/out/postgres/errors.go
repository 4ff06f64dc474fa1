package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// PostgreSQL SQLSTATE
const (
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeLockNotAvailable = "55P03"
	codeDeadlockDetected = "40P01"
)

// translateError 將 pgx 錯誤轉換成 domain 錯誤
//
// 55P03 同時代表 NOWAIT 失敗與 lock_timeout 逾時，依上鎖模式區分。
func translateError(err error, mode domain.LockMode) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrAccountNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		if mode == domain.LockNoWait {
			return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	case codeDeadlockDetected:
		return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
	case codeUniqueViolation:
		if pgErr.ConstraintName == "accounts_pkey" {
			return fmt.Errorf("%w: %w", domain.ErrAccountAlreadyExists, err)
		}
	case codeCheckViolation:
		return fmt.Errorf("%w: %w", domain.ErrInsufficientFunds, err)
	}
	return err
}
