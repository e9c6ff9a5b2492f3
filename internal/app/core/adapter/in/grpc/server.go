package grpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/auth"
)

type GrpcServer struct {
	ledger       usecase.Ledger
	historyLimit int
	logger       *zap.Logger
}

// NewGrpcServer 建立 gRPC handler
//
// 參數:
//
//	ledger: 帳本核心
//	historyLimit: 請求未指定 limit 時回傳的交易筆數
//	logger: 可為 nil
func NewGrpcServer(ledger usecase.Ledger, historyLimit int, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		ledger:       ledger,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

func (s *GrpcServer) GetAccountSnapshot(ctx context.Context, req *GetAccountSnapshotRequest) (*GetAccountSnapshotResponse, error) {
	accountID, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.historyLimit
	}
	snap, err := s.ledger.GetAccountSnapshot(ctx, accountID, limit)
	if err != nil {
		return nil, s.toStatus(err)
	}

	history := make([]Record, 0, len(snap.History))
	for _, rec := range snap.History {
		history = append(history, toRecord(rec))
	}
	return &GetAccountSnapshotResponse{
		AccountID: snap.AccountID,
		Balance:   domain.FormatMoney(snap.Balance),
		Version:   snap.Version,
		History:   history,
	}, nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *DepositRequest) (*OperationResponse, error) {
	accountID, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	res, err := s.ledger.ApplyDeposit(ctx, accountID, amount, req.Source)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toOperationResponse(res), nil
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *WithdrawRequest) (*OperationResponse, error) {
	accountID, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	res, err := s.ledger.ApplyWithdrawal(ctx, accountID, amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toOperationResponse(res), nil
}

func (s *GrpcServer) Transfer(ctx context.Context, req *TransferRequest) (*OperationResponse, error) {
	accountID, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	res, err := s.ledger.ApplyTransfer(ctx, accountID, req.Recipient, amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toOperationResponse(res), nil
}

// toStatus 把帳本錯誤轉成 gRPC status code
func (s *GrpcServer) toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrInvalidAccountID):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientFunds):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrContention):
		code = codes.Aborted
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.Error("ledger operation failed", zap.Error(err))
	}
	return status.Error(code, err.Error())
}

func toRecord(rec domain.TransactionRecord) Record {
	return Record{
		ID:           rec.ID.String(),
		Sequence:     rec.Sequence,
		Kind:         rec.Kind.String(),
		Amount:       domain.FormatMoney(rec.Amount),
		Counterparty: rec.Counterparty,
		CreatedAt:    rec.CreatedAt,
	}
}

func toOperationResponse(res domain.OperationResult) *OperationResponse {
	return &OperationResponse{
		Balance:  domain.FormatMoney(res.Balance),
		Record:   toRecord(res.Record),
		Attempts: res.Attempts,
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
