package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// Record 交易紀錄
type Record struct {
	ID           string    `json:"id"`
	Sequence     uint64    `json:"sequence"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	Counterparty string    `json:"counterparty"`
	CreatedAt    time.Time `json:"created_at"`
}

type GetAccountSnapshotRequest struct {
	// Limit 最多回傳幾筆紀錄，0 使用伺服器預設值，負數表示全部
	Limit int `json:"limit"`
}

type GetAccountSnapshotResponse struct {
	AccountID string   `json:"account_id"`
	Balance   string   `json:"balance"`
	Version   uint64   `json:"version"`
	History   []Record `json:"history"`
}

type DepositRequest struct {
	Amount string `json:"amount"`
	Source string `json:"source"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
}

type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// OperationResponse 存款 / 提款 / 轉帳成功後的結果
type OperationResponse struct {
	Balance  string `json:"balance"`
	Record   Record `json:"record"`
	Attempts int    `json:"attempts"`
}

// LedgerServiceServer 伺服器端介面
type LedgerServiceServer interface {
	GetAccountSnapshot(context.Context, *GetAccountSnapshotRequest) (*GetAccountSnapshotResponse, error)
	Deposit(context.Context, *DepositRequest) (*OperationResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*OperationResponse, error)
	Transfer(context.Context, *TransferRequest) (*OperationResponse, error)
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// unaryHandler 把 handler 包成 grpc.MethodDesc 需要的形式
func unaryHandler[Req any, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc 手寫的 service descriptor (訊息使用 JSON codec)
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetAccountSnapshot", LedgerServiceServer.GetAccountSnapshot),
		unaryHandler("Deposit", LedgerServiceServer.Deposit),
		unaryHandler("Withdraw", LedgerServiceServer.Withdraw),
		unaryHandler("Transfer", LedgerServiceServer.Transfer),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.json",
}

// LedgerServiceClient 用戶端
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) GetAccountSnapshot(ctx context.Context, in *GetAccountSnapshotRequest, opts ...grpc.CallOption) (*GetAccountSnapshotResponse, error) {
	return invoke[GetAccountSnapshotResponse](ctx, c.cc, "GetAccountSnapshot", in, opts)
}

func (c *LedgerServiceClient) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "Deposit", in, opts)
}

func (c *LedgerServiceClient) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "Withdraw", in, opts)
}

func (c *LedgerServiceClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "Transfer", in, opts)
}
