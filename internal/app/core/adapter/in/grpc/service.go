package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// LedgerServiceServer gRPC 服務端介面
type LedgerServiceServer interface {
	OpenAccount(context.Context, *OpenAccountRequest) (*AccountResponse, error)
	GetAccount(context.Context, *GetAccountRequest) (*AccountResponse, error)
	LookupAccount(context.Context, *LookupAccountRequest) (*AccountResponse, error)
	ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error)
	SetAccountStatus(context.Context, *SetAccountStatusRequest) (*AccountResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	Deposit(context.Context, *DepositRequest) (*TransactionResponse, error)
	Reverse(context.Context, *ReverseRequest) (*TransactionResponse, error)
	QueryHistory(context.Context, *QueryHistoryRequest) (*TransactionsResponse, error)
	RecentTransactions(context.Context, *RecentTransactionsRequest) (*TransactionsResponse, error)
}

// unaryHandler 把 LedgerServiceServer 的方法包成 grpc.MethodHandler
func unaryHandler[Req, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := call(srv.(LedgerServiceServer), ctx, req.(*Req))
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc 手寫的服務描述，訊息以 JSON codec 編碼
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenAccount", Handler: unaryHandler("OpenAccount", LedgerServiceServer.OpenAccount)},
		{MethodName: "GetAccount", Handler: unaryHandler("GetAccount", LedgerServiceServer.GetAccount)},
		{MethodName: "LookupAccount", Handler: unaryHandler("LookupAccount", LedgerServiceServer.LookupAccount)},
		{MethodName: "ListAccounts", Handler: unaryHandler("ListAccounts", LedgerServiceServer.ListAccounts)},
		{MethodName: "SetAccountStatus", Handler: unaryHandler("SetAccountStatus", LedgerServiceServer.SetAccountStatus)},
		{MethodName: "Transfer", Handler: unaryHandler("Transfer", LedgerServiceServer.Transfer)},
		{MethodName: "Deposit", Handler: unaryHandler("Deposit", LedgerServiceServer.Deposit)},
		{MethodName: "Reverse", Handler: unaryHandler("Reverse", LedgerServiceServer.Reverse)},
		{MethodName: "QueryHistory", Handler: unaryHandler("QueryHistory", LedgerServiceServer.QueryHistory)},
		{MethodName: "RecentTransactions", Handler: unaryHandler("RecentTransactions", LedgerServiceServer.RecentTransactions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger",
}

// RegisterLedgerServiceServer 註冊到 gRPC server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
