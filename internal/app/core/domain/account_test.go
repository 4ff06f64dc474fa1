package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	owner := uuid.New()
	acc, err := NewAccount(owner, "account1", 0)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, acc.ID())
	assert.Equal(t, owner, acc.OwnerID)
	assert.Equal(t, "account1", acc.DisplayName)
	assert.Equal(t, int64(0), acc.Balance().Amount())
	assert.False(t, acc.CreatedAt.IsZero())

	_, err = NewAccount(owner, "bad", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAccountCreditDebit(t *testing.T) {
	acc, err := NewAccount(uuid.New(), "account1", 100)
	require.NoError(t, err)

	require.NoError(t, acc.Credit(50))
	assert.Equal(t, int64(150), acc.Balance().Amount())

	require.NoError(t, acc.Debit(30))
	assert.Equal(t, int64(120), acc.Balance().Amount())

	for _, amount := range []int64{0, -5} {
		assert.ErrorIs(t, acc.Credit(amount), ErrInvalidAmount)
		assert.ErrorIs(t, acc.Debit(amount), ErrInvalidAmount)
	}
	assert.Equal(t, int64(120), acc.Balance().Amount())
}

func TestAccountDebitInsufficientLeavesBalance(t *testing.T) {
	acc, err := NewAccount(uuid.New(), "account1", 0)
	require.NoError(t, err)

	// 連續失敗不影響餘額
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, acc.Debit(3000), ErrInsufficientFunds)
		assert.Equal(t, int64(0), acc.Balance().Amount())
	}
}

func TestRestoreAccount(t *testing.T) {
	id, owner := uuid.New(), uuid.New()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	acc, err := RestoreAccount(id, owner, "restored", 500, created)
	require.NoError(t, err)
	assert.Equal(t, id, acc.ID())
	assert.Equal(t, int64(500), acc.Balance().Amount())
	assert.Equal(t, created, acc.CreatedAt)

	_, err = RestoreAccount(id, owner, "restored", -1, created)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = RestoreAccount(uuid.Nil, owner, "restored", 0, created)
	assert.Error(t, err)
}

func TestAccountCloneIsIndependent(t *testing.T) {
	acc, err := NewAccount(uuid.New(), "account1", 10)
	require.NoError(t, err)

	cp := acc.Clone()
	require.NoError(t, cp.Credit(5))

	assert.Equal(t, acc.ID(), cp.ID())
	assert.Equal(t, int64(10), acc.Balance().Amount())
	assert.Equal(t, int64(15), cp.Balance().Amount())
}
