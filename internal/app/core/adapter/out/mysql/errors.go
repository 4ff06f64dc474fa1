package mysql

import (
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// InnoDB 錯誤代碼
const (
	erDupEntry              = 1062
	erLockWaitTimeout       = 1205
	erLockDeadlock          = 1213
	erLockNowait            = 3572
	erCheckConstraintFailed = 3819
)

// translateError 將 driver 錯誤轉換成 domain 錯誤，原始錯誤仍保留在錯誤鏈中
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrAccountNotFound, err)
	}
	var me *mysqldriver.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case erLockNowait:
		return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
	case erLockWaitTimeout:
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	case erLockDeadlock:
		// InnoDB 選中此交易作為死鎖犧牲者，整個交易已被 rollback
		return fmt.Errorf("%w: %w", domain.ErrLockUnavailable, err)
	case erCheckConstraintFailed:
		return fmt.Errorf("%w: %w", domain.ErrInsufficientFunds, err)
	}
	return err
}

// translateInsertError 新增帳戶時主鍵重複代表帳戶已存在
func translateInsertError(err error) error {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) && me.Number == erDupEntry {
		return fmt.Errorf("%w: %w", domain.ErrAccountAlreadyExists, err)
	}
	return translateError(err)
}
