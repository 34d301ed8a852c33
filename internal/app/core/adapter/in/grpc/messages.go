package grpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Account 帳戶 (金額為最小貨幣單位，BalanceText 為格式化後的字串)
type Account struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	OwnerID     string `json:"owner_id"`
	Balance     int64  `json:"balance"`
	BalanceText string `json:"balance_text"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Version     uint64 `json:"version"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Transaction 交易紀錄
type Transaction struct {
	ID             string `json:"id"`
	Reference      string `json:"reference"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	FromAccountID  int64  `json:"from_account_id"`
	ToAccountID    int64  `json:"to_account_id"`
	ToNumber       string `json:"to_number,omitempty"`
	Amount         int64  `json:"amount"`
	AmountText     string `json:"amount_text"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	ReversalOf     string `json:"reversal_of,omitempty"`
	Sequence       uint64 `json:"sequence"`
	CreatedAt      int64  `json:"created_at"`
}

// Cursor 歷史查詢的續查位置
type Cursor struct {
	CreatedAt int64  `json:"created_at"`
	Sequence  uint64 `json:"sequence"`
}

type OpenAccountRequest struct {
	OwnerID        string `json:"owner_id"`
	Type           string `json:"type"`
	InitialBalance int64  `json:"initial_balance"`
	Currency       string `json:"currency"`
}

type GetAccountRequest struct {
	AccountID int64 `json:"account_id"`
}

type LookupAccountRequest struct {
	Number string `json:"number"`
}

type ListAccountsRequest struct {
	OwnerID string `json:"owner_id"`
}

type SetAccountStatusRequest struct {
	AccountID int64  `json:"account_id"`
	Status    string `json:"status"`
}

type AccountResponse struct {
	Account *Account `json:"account"`
}

type ListAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
}

type TransferRequest struct {
	FromAccountID   int64  `json:"from_account_id"`
	ToAccountNumber string `json:"to_account_number"`
	Amount          int64  `json:"amount"`
	Description     string `json:"description,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// TransferResponse 業務錯誤不走 gRPC status，以 Success=false 回傳 (Soft Failure)
type TransferResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// Code 失敗時對應的 gRPC code 名稱
	Code           string       `json:"code,omitempty"`
	Transaction    *Transaction `json:"transaction,omitempty"`
	CurrentBalance int64        `json:"current_balance"`
}

type DepositRequest struct {
	ToAccountID    int64  `json:"to_account_id"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ReverseRequest struct {
	TransactionID  string `json:"transaction_id"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type QueryHistoryRequest struct {
	AccountID int64 `json:"account_id"`
	Limit     int   `json:"limit"`
	// BeforeUnixNano 0 代表不限
	BeforeUnixNano int64   `json:"before_unix_nano,omitempty"`
	Cursor         *Cursor `json:"cursor,omitempty"`
	IncludeFailed  bool    `json:"include_failed,omitempty"`
}

type RecentTransactionsRequest struct {
	Limit int `json:"limit"`
}

type TransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
	// NextCursor 帶入下一次 QueryHistory 即可接續
	NextCursor *Cursor `json:"next_cursor,omitempty"`
}

func toAccount(a *domain.Account) *Account {
	return &Account{
		ID:          a.ID,
		Number:      a.Number,
		OwnerID:     a.OwnerID,
		Balance:     a.Balance,
		BalanceText: domain.FormatAmount(a.Balance, a.Currency),
		Currency:    string(a.Currency),
		Type:        a.Type.String(),
		Status:      a.Status.String(),
		Version:     a.Version,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toTransaction(t *domain.Transaction) *Transaction {
	if t == nil {
		return nil
	}
	out := &Transaction{
		ID:             t.ID.String(),
		Reference:      t.Reference,
		Kind:           t.Kind.String(),
		Status:         t.Status.String(),
		FromAccountID:  t.From,
		ToAccountID:    t.To,
		ToNumber:       t.ToNumber,
		Amount:         t.Amount,
		Currency:       string(t.Currency),
		Description:    t.Description,
		FailureReason:  t.FailureReason,
		IdempotencyKey: t.IdempotencyKey,
		Sequence:       t.Sequence,
		CreatedAt:      t.CreatedAt,
	}
	if t.Currency != "" {
		out.AmountText = domain.FormatAmount(t.Amount, t.Currency)
	}
	if t.ReversalOf != uuid.Nil {
		out.ReversalOf = t.ReversalOf.String()
	}
	return out
}

func toTransactions(trans []*domain.Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(trans))
	for _, t := range trans {
		out = append(out, toTransaction(t))
	}
	return out
}

func (r *QueryHistoryRequest) toQuery() usecase.HistoryQuery {
	q := usecase.HistoryQuery{
		AccountID:     r.AccountID,
		Limit:         r.Limit,
		IncludeFailed: r.IncludeFailed,
	}
	if r.BeforeUnixNano > 0 {
		q.Before = time.Unix(0, r.BeforeUnixNano)
	}
	if r.Cursor != nil {
		q.Cursor = usecase.Cursor{CreatedAt: r.Cursor.CreatedAt, Sequence: r.Cursor.Sequence}
	}
	return q
}
