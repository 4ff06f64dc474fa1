package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpc_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-locked-ledger/internal/config"
	"github.com/JoeShih716/go-locked-ledger/pkg/logger"
	pb "github.com/JoeShih716/go-locked-ledger/proto"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 載入設定
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, _, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化帳本儲存層
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. 初始化 UseCase 與 gRPC Adapter
	core := usecase.NewCoreUseCase(store, log.Named("core"))
	grpcServer := grpc_adapter.NewGrpcServer(core, log.Named("grpc"))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", cfg.GRPC.Port, err)
	}

	s := newServer(grpcServer, log.Named("grpc"))

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting gRPC server",
			zap.Int("port", cfg.GRPC.Port),
			zap.String("backend", string(cfg.Backend)),
			zap.Duration("lock_timeout", cfg.LockTimeout),
		)
		serveErr <- s.Serve(lis)
	}()

	// 4. Graceful Shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}
	healthServer.Shutdown()
	s.GracefulStop()
	log.Info("server exited")
	return nil
}

// newServer 註冊帳本服務與 health check
// JSON codec 的訊息沒有 file descriptor，所以不註冊 reflection
func newServer(ledger pb.LedgerServiceServer, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(log)))
	pb.RegisterLedgerServiceServer(s, ledger)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)
	return s
}
