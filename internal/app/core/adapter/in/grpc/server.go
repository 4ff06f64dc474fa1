package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-locked-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	pb "github.com/JoeShih716/go-locked-ledger/proto"
)

type GrpcServer struct {
	pb.UnimplementedLedgerServiceServer
	core   *usecase.CoreUseCase
	logger *zap.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		core:   core,
		logger: logger,
	}
}

func (s *GrpcServer) OpenAccount(ctx context.Context, req *pb.OpenAccountRequest) (*pb.AccountResponse, error) {
	ownerID, err := parseID("owner_id", req.OwnerID)
	if err != nil {
		return nil, err
	}
	account, err := s.core.OpenAccount(ctx, ownerID, req.DisplayName, req.InitialBalance)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.AccountResponse{Account: toAccount(account)}, nil
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *pb.GetAccountRequest) (*pb.AccountResponse, error) {
	id, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	account, err := s.core.GetAccount(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.AccountResponse{Account: toAccount(account)}, nil
}

func (s *GrpcServer) Credit(ctx context.Context, req *pb.CreditRequest) (*pb.BalanceResponse, error) {
	id, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	credit := s.core.Credit
	if req.NoWait {
		credit = s.core.TryCredit
	}
	balance, err := credit(ctx, id, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.BalanceResponse{AccountID: req.AccountID, Balance: balance.Amount()}, nil
}

func (s *GrpcServer) Debit(ctx context.Context, req *pb.DebitRequest) (*pb.BalanceResponse, error) {
	id, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	debit := s.core.Debit
	if req.NoWait {
		debit = s.core.TryDebit
	}
	balance, err := debit(ctx, id, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.BalanceResponse{AccountID: req.AccountID, Balance: balance.Amount()}, nil
}

func (s *GrpcServer) Transfer(ctx context.Context, req *pb.TransferRequest) (*pb.TransferResponse, error) {
	// 1. UUID 解析
	fromID, err := parseID("from_account_id", req.FromAccountID)
	if err != nil {
		return nil, err
	}
	toID, err := parseID("to_account_id", req.ToAccountID)
	if err != nil {
		return nil, err
	}

	// 2. 執行轉帳
	transfer := s.core.Transfer
	if req.NoWait {
		transfer = s.core.TryTransfer
	}
	if err := transfer(ctx, fromID, toID, req.Amount); err != nil {
		return nil, toStatus(err)
	}

	// 3. 取得最新餘額 (Best Effort)，轉帳已經 commit，讀取失敗不影響結果
	resp := &pb.TransferResponse{}
	if b, err := s.core.GetBalance(ctx, fromID); err == nil {
		resp.FromBalance = b.Amount()
	}
	if b, err := s.core.GetBalance(ctx, toID); err == nil {
		resp.ToBalance = b.Amount()
	}
	return resp, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *pb.GetBalanceRequest) (*pb.BalanceResponse, error) {
	id, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	balance, err := s.core.GetBalance(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.BalanceResponse{AccountID: req.AccountID, Balance: balance.Amount()}, nil
}

func (s *GrpcServer) ListAccounts(ctx context.Context, req *pb.ListAccountsRequest) (*pb.ListAccountsResponse, error) {
	ownerID, err := parseID("owner_id", req.OwnerID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.core.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &pb.ListAccountsResponse{Accounts: make([]*pb.Account, 0, len(accounts))}
	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, toAccount(account))
	}
	return resp, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func toAccount(account *domain.Account) *pb.Account {
	return &pb.Account{
		ID:          account.ID().String(),
		OwnerID:     account.OwnerID.String(),
		DisplayName: account.DisplayName,
		Balance:     account.Balance().Amount(),
		CreatedAt:   account.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
