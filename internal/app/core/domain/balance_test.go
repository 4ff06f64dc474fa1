package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBalanceRejectsNegative(t *testing.T) {
	for _, amount := range []int64{-1, -1000, math.MinInt64} {
		_, err := NewBalance(amount)
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount=%d", amount)
	}

	b, err := NewBalance(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Amount())
}

func TestBalanceAdd(t *testing.T) {
	b, err := NewBalance(100)
	require.NoError(t, err)

	next, err := b.Add(50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), next.Amount())
	// 原本的值不受影響
	assert.Equal(t, int64(100), b.Amount())

	_, err = b.Add(-1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBalanceAddOverflow(t *testing.T) {
	b, err := NewBalance(math.MaxInt64 - 1)
	require.NoError(t, err)

	next, err := b.Add(1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), next.Amount())

	_, err = next.Add(1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestBalanceCheckSufficient(t *testing.T) {
	b, err := NewBalance(3000)
	require.NoError(t, err)

	assert.NoError(t, b.CheckSufficient(0))
	assert.NoError(t, b.CheckSufficient(3000))
	assert.ErrorIs(t, b.CheckSufficient(3001), ErrInsufficientFunds)
	assert.ErrorIs(t, b.CheckSufficient(-1), ErrInvalidAmount)
	assert.Equal(t, int64(3000), b.Amount())

	var zero Balance
	assert.ErrorIs(t, zero.CheckSufficient(3000), ErrInsufficientFunds)
}

func TestBalanceSub(t *testing.T) {
	b, err := NewBalance(10)
	require.NoError(t, err)

	next, err := b.Sub(10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next.Amount())

	same, err := b.Sub(11)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, b, same)
}

func TestBalanceJSONRejectsNegative(t *testing.T) {
	var b Balance
	require.NoError(t, json.Unmarshal([]byte(`42`), &b))
	assert.Equal(t, int64(42), b.Amount())

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, "42", string(raw))

	assert.ErrorIs(t, json.Unmarshal([]byte(`-5`), &b), ErrInvalidAmount)
}
