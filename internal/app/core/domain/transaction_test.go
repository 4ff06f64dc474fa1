package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLockOrderIsDirectionIndependent(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	first, second := LockOrder(low, high)
	assert.Equal(t, low, first)
	assert.Equal(t, high, second)

	first, second = LockOrder(high, low)
	assert.Equal(t, low, first)
	assert.Equal(t, high, second)

	assert.Negative(t, CompareIDs(low, high))
	assert.Positive(t, CompareIDs(high, low))
	assert.Zero(t, CompareIDs(low, low))
}

func TestGetLockIDs(t *testing.T) {
	a := uuid.MustParse("10000000-0000-0000-0000-000000000000")
	b := uuid.MustParse("20000000-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{a, b}, NewTransfer(a, b, 1).GetLockIDs())
	assert.Equal(t, []uuid.UUID{a, b}, NewTransfer(b, a, 1).GetLockIDs())
	assert.Equal(t, []uuid.UUID{b}, NewDeposit(b, 1).GetLockIDs())
	assert.Equal(t, []uuid.UUID{a}, NewWithdraw(a, 1).GetLockIDs())
}

func TestTransactionValidate(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.NoError(t, NewTransfer(a, b, 1).Validate())
	assert.NoError(t, NewDeposit(a, 1).Validate())
	assert.NoError(t, NewWithdraw(a, 1).Validate())

	assert.ErrorIs(t, NewTransfer(a, a, 1).Validate(), ErrInvalidTransfer)
	assert.ErrorIs(t, NewTransfer(a, a, 0).Validate(), ErrInvalidTransfer)
	assert.ErrorIs(t, NewTransfer(a, a, -3).Validate(), ErrInvalidTransfer)
	assert.ErrorIs(t, NewTransfer(a, b, 0).Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, NewDeposit(a, -1).Validate(), ErrInvalidAmount)

	bad := NewDeposit(a, 1)
	bad.Type = 99
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTransfer)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrLockUnavailable))
	assert.True(t, IsRetryable(ErrLockTimeout))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.False(t, IsRetryable(nil))
}
