package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestPoolReusesConnection(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	c1, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)
	c2, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)
	c3, err := pool.GetConnection("passthrough:///b")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, c3)
}

func TestPoolReplacesClosedConnection(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	c1, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}

func TestPoolClose(t *testing.T) {
	pool := NewPool()
	c1, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	c2, err := pool.GetConnection("passthrough:///a")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	require.NoError(t, pool.Close())
}

func abortedWithRetry(delay time.Duration) error {
	st, _ := status.New(codes.Aborted, "account lock unavailable").
		WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(delay)})
	return st.Err()
}

func TestRetryDelayOf(t *testing.T) {
	delay, ok := RetryDelayOf(abortedWithRetry(30 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, delay)

	_, ok = RetryDelayOf(status.Error(codes.Aborted, "no details"))
	assert.False(t, ok)
	_, ok = RetryDelayOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestRetryAbortedInterceptor(t *testing.T) {
	interceptor := RetryAbortedInterceptor(3, nil)
	ctx := context.Background()

	calls := 0
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		calls++
		if calls < 3 {
			return abortedWithRetry(time.Millisecond)
		}
		return nil
	}
	require.NoError(t, interceptor(ctx, "/m", nil, nil, nil, invoker))
	assert.Equal(t, 3, calls)

	calls = 0
	always := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		calls++
		return abortedWithRetry(time.Millisecond)
	}
	err := interceptor(ctx, "/m", nil, nil, nil, always)
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, 4, calls)

	calls = 0
	notFound := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		calls++
		return status.Error(codes.NotFound, "missing")
	}
	err = interceptor(ctx, "/m", nil, nil, nil, notFound)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, 1, calls)
}

func TestRetryAbortedInterceptorStopsOnCancel(t *testing.T) {
	interceptor := RetryAbortedInterceptor(100, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	slow := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return abortedWithRetry(time.Hour)
	}
	err := interceptor(ctx, "/m", nil, nil, nil, slow)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
