package grpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	// 註冊 JSON codec
	_ "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

// Ledger Server 需要的帳務操作 (usecase.LedgerEngine)
type Ledger interface {
	OpenAccount(ctx context.Context, req usecase.OpenAccountRequest) (*domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	LookupByNumber(ctx context.Context, number string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error)
	SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) (*domain.Account, error)
	Transfer(ctx context.Context, req usecase.TransferRequest) (*domain.Transaction, error)
	Deposit(ctx context.Context, req usecase.DepositRequest) (*domain.Transaction, error)
	Reverse(ctx context.Context, req usecase.ReverseRequest) (*domain.Transaction, error)
	QueryHistory(ctx context.Context, q usecase.HistoryQuery) *usecase.HistoryIterator
	RecentTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// Server LedgerService 的實作
type Server struct {
	ledger Ledger
}

// NewServer 建立 Server
func NewServer(ledger Ledger) *Server {
	return &Server{ledger: ledger}
}

func (s *Server) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*AccountResponse, error) {
	accountType, err := domain.ParseAccountType(req.Type)
	if err != nil {
		return nil, toStatus(err)
	}
	account, err := s.ledger.OpenAccount(ctx, usecase.OpenAccountRequest{
		OwnerID:        req.OwnerID,
		Type:           accountType,
		InitialBalance: req.InitialBalance,
		Currency:       domain.Currency(req.Currency),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

func (s *Server) GetAccount(ctx context.Context, req *GetAccountRequest) (*AccountResponse, error) {
	account, err := s.ledger.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

func (s *Server) LookupAccount(ctx context.Context, req *LookupAccountRequest) (*AccountResponse, error) {
	account, err := s.ledger.LookupByNumber(ctx, req.Number)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

func (s *Server) ListAccounts(ctx context.Context, req *ListAccountsRequest) (*ListAccountsResponse, error) {
	accounts, err := s.ledger.ListAccounts(ctx, req.OwnerID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListAccountsResponse{Accounts: make([]*Account, 0, len(accounts))}
	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, toAccount(account))
	}
	return resp, nil
}

func (s *Server) SetAccountStatus(ctx context.Context, req *SetAccountStatusRequest) (*AccountResponse, error) {
	st, err := domain.ParseAccountStatus(req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	account, err := s.ledger.SetAccountStatus(ctx, req.AccountID, st)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// Transfer 業務錯誤回傳 Success=false 與失敗的交易紀錄 (Soft Failure)
func (s *Server) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	tran, err := s.ledger.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   req.FromAccountID,
		ToAccountNumber: req.ToAccountNumber,
		Amount:          req.Amount,
		Description:     req.Description,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		if tran == nil {
			return nil, toStatus(err)
		}
		return &TransferResponse{
			Success:     false,
			Message:     err.Error(),
			Code:        codeOf(err).String(),
			Transaction: toTransaction(tran),
		}, nil
	}

	// 轉出帳戶最新餘額 (Best Effort)
	resp := &TransferResponse{Success: true, Transaction: toTransaction(tran)}
	if account, err := s.ledger.GetAccount(ctx, req.FromAccountID); err == nil {
		resp.CurrentBalance = account.Balance
	}
	return resp, nil
}

func (s *Server) Deposit(ctx context.Context, req *DepositRequest) (*TransactionResponse, error) {
	tran, err := s.ledger.Deposit(ctx, usecase.DepositRequest{
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionResponse{Transaction: toTransaction(tran)}, nil
}

func (s *Server) Reverse(ctx context.Context, req *ReverseRequest) (*TransactionResponse, error) {
	id, err := uuid.Parse(req.TransactionID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid transaction_id: "+err.Error())
	}
	tran, err := s.ledger.Reverse(ctx, usecase.ReverseRequest{
		TransactionID:  id,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionResponse{Transaction: toTransaction(tran)}, nil
}

func (s *Server) QueryHistory(ctx context.Context, req *QueryHistoryRequest) (*TransactionsResponse, error) {
	if req.Limit <= 0 || req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}
	it := s.ledger.QueryHistory(ctx, req.toQuery())
	trans, err := it.Collect()
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &TransactionsResponse{Transactions: toTransactions(trans)}
	// 剛好取滿一頁代表可能還有下一頁
	if len(trans) == req.Limit {
		c := it.Cursor()
		resp.NextCursor = &Cursor{CreatedAt: c.CreatedAt, Sequence: c.Sequence}
	}
	return resp, nil
}

func (s *Server) RecentTransactions(ctx context.Context, req *RecentTransactionsRequest) (*TransactionsResponse, error) {
	if req.Limit <= 0 || req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}
	trans, err := s.ledger.RecentTransactions(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionsResponse{Transactions: toTransactions(trans)}, nil
}

// maxPageLimit 單次回應最多的交易筆數
const maxPageLimit = 500

// codeOf domain 錯誤對應的 gRPC code
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, domain.ErrCompensationFailed):
		return codes.DataLoss
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, domain.ErrLockTimeout), errors.Is(err, domain.ErrVersionConflict):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrDuplicateAccountNumber), errors.Is(err, domain.ErrDuplicateTransaction):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrBalanceOverflow),
		errors.Is(err, domain.ErrAlreadyReversed),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrTransactionImmutable):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeOf(err)
	if code == codes.Internal {
		return status.Error(code, fmt.Sprintf("internal error: %v", err))
	}
	return status.Error(code, err.Error())
}

var _ LedgerServiceServer = (*Server)(nil)
