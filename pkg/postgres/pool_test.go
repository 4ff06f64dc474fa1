package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolRejectsBadURL(t *testing.T) {
	_, err := NewPool(context.Background(), Config{URL: "postgres://%zz"}, nil)
	assert.ErrorContains(t, err, "parse postgres config")
}

func TestNewPool(t *testing.T) {
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	pool, err := NewPool(context.Background(), Config{URL: url, MaxConns: 4}, nil)
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, int32(4), pool.Config().MaxConns)
}
