package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-locked-ledger/pkg/grpc"
	"github.com/JoeShih716/go-locked-ledger/pkg/logger"
	pb "github.com/JoeShih716/go-locked-ledger/proto"
)

type options struct {
	addr        string
	total       int
	concurrency int
	amount      int64
	initial     int64
	noWait      bool
	retries     int
	timeout     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "localhost:50051", "ledger gRPC address")
	flag.IntVar(&opts.total, "n", 10000, "number of transfers")
	flag.IntVar(&opts.concurrency, "c", 100, "concurrent requests")
	flag.Int64Var(&opts.amount, "amount", 10, "amount per transfer")
	flag.Int64Var(&opts.initial, "initial", 1_000_000, "opening balance of each account")
	flag.BoolVar(&opts.noWait, "nowait", false, "use NO_WAIT locking")
	flag.IntVar(&opts.retries, "retries", 20, "client retries on lock contention")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	log, _, err := logger.New("info", false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(opts, log); err != nil {
		log.Error("load test failed", zap.Error(err))
		os.Exit(1)
	}
}

// run 開兩個帳戶並以相反方向同時轉帳，結束後檢查總額不變
func run(opts options, log *zap.Logger) error {
	pool := grpc.NewPool(
		grpc.WithLogger(log),
		grpc.WithInterceptor(grpc.RetryAbortedInterceptor(opts.retries, log)),
	)
	defer pool.Close()
	conn, err := pool.GetConnection(opts.addr)
	if err != nil {
		return err
	}
	c := pb.NewLedgerServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	owner := uuid.NewString()
	accounts := make([]string, 2)
	for i := range accounts {
		resp, err := c.OpenAccount(ctx, &pb.OpenAccountRequest{
			OwnerID:        owner,
			DisplayName:    fmt.Sprintf("loadgen-%d", i),
			InitialBalance: opts.initial,
		})
		if err != nil {
			return fmt.Errorf("open account: %w", err)
		}
		accounts[i] = resp.Account.ID
	}

	var failed, contended atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	start := time.Now()
	for i := 0; i < opts.total; i++ {
		from, to := accounts[i%2], accounts[(i+1)%2]
		g.Go(func() error {
			_, err := c.Transfer(gctx, &pb.TransferRequest{
				FromAccountID: from,
				ToAccountID:   to,
				Amount:        opts.amount,
				NoWait:        opts.noWait,
			})
			switch status.Code(err) {
			case codes.OK:
			case codes.Aborted:
				contended.Add(1)
			default:
				if failed.Add(1)%1000 == 1 {
					log.Warn("transfer failed", zap.Int("idx", i), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	var sum int64
	for _, id := range accounts {
		resp, err := c.GetBalance(ctx, &pb.GetBalanceRequest{AccountID: id})
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		sum += resp.Balance
	}

	log.Info("load test finished",
		zap.Int("requests", opts.total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("tps", float64(opts.total)/elapsed.Seconds()),
		zap.Int64("aborted", contended.Load()),
		zap.Int64("failed", failed.Load()),
	)
	if want := 2 * opts.initial; sum != want {
		return fmt.Errorf("total balance changed: got %d, want %d", sum, want)
	}
	return nil
}
