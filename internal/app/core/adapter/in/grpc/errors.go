package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
)

// RetryDelay 鎖衝突時建議客戶端等待的時間 (放在 RetryInfo)
const RetryDelay = 50 * time.Millisecond

// toStatus 把 domain 錯誤轉成 gRPC status
//
// 鎖衝突 (ErrLockUnavailable / ErrLockTimeout) 回傳 Aborted 並附上 RetryInfo，
// 這時沒有任何異動被套用，客戶端可以整個請求重送。
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidTransfer):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientFunds):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrAccountNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrArithmeticOverflow):
		code = codes.OutOfRange
	case domain.IsRetryable(err):
		return retryableStatus(err)
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func retryableStatus(err error) error {
	st := status.New(codes.Aborted, err.Error())
	detailed, derr := st.WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(RetryDelay),
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}
