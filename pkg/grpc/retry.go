package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryDelayOf 從 status 錯誤取出 RetryInfo 的建議等待時間
func RetryDelayOf(err error) (time.Duration, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}

// RetryAbortedInterceptor 對帶有 RetryInfo 的 Aborted 錯誤重送請求
//
// 參數:
//
//	maxRetries: 最多重送次數
//	logger: logger (可為 nil)
//
// 回傳值:
//
//	grpc.UnaryClientInterceptor: 依 RetryInfo 的延遲重送，ctx 結束時回傳 ctx 錯誤
func RetryAbortedInterceptor(maxRetries int, logger *zap.Logger) grpc.UnaryClientInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		for attempt := 0; ; attempt++ {
			err := invoker(ctx, method, req, reply, cc, opts...)
			if err == nil || status.Code(err) != codes.Aborted || attempt >= maxRetries {
				return err
			}
			delay, ok := RetryDelayOf(err)
			if !ok {
				return err
			}
			logger.Debug("retrying aborted call",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
