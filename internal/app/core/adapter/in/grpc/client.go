package grpc

import (
	"context"

	"google.golang.org/grpc"

	grpcx "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

// Client LedgerService 的客戶端
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 以既有連線建立客戶端 (例如 grpcx.Pool.GetConnection)
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(grpcx.CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenAccount(ctx context.Context, in *OpenAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "OpenAccount", in, opts...)
}

func (c *Client) GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "GetAccount", in, opts...)
}

func (c *Client) LookupAccount(ctx context.Context, in *LookupAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "LookupAccount", in, opts...)
}

func (c *Client) ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	return invoke[ListAccountsResponse](ctx, c, "ListAccounts", in, opts...)
}

func (c *Client) SetAccountStatus(ctx context.Context, in *SetAccountStatusRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "SetAccountStatus", in, opts...)
}

func (c *Client) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferResponse](ctx, c, "Transfer", in, opts...)
}

func (c *Client) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	return invoke[TransactionResponse](ctx, c, "Deposit", in, opts...)
}

func (c *Client) Reverse(ctx context.Context, in *ReverseRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	return invoke[TransactionResponse](ctx, c, "Reverse", in, opts...)
}

func (c *Client) QueryHistory(ctx context.Context, in *QueryHistoryRequest, opts ...grpc.CallOption) (*TransactionsResponse, error) {
	return invoke[TransactionsResponse](ctx, c, "QueryHistory", in, opts...)
}

func (c *Client) RecentTransactions(ctx context.Context, in *RecentTransactionsRequest, opts ...grpc.CallOption) (*TransactionsResponse, error) {
	return invoke[TransactionsResponse](ctx, c, "RecentTransactions", in, opts...)
}
